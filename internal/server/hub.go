// Package server coordinates client registration, message broadcast, session
// recovery and connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// ErrHubClosed is returned by Broadcast once the hub has shut down.
var ErrHubClosed = errors.New("hub is shut down")

// HubConfig tunes a Hub.
type HubConfig struct {
	// RecoveryWindow is how long a disconnected session stays resumable. Zero
	// disables connection state recovery.
	RecoveryWindow time.Duration

	// Head is the highest message id already in the log when the hub starts.
	Head int64

	Logger *slog.Logger
}

// Hub manages all WebSocket client connections and handles message broadcasting.
// It maintains client registration/unregistration and ensures thread-safe operations
// through mutex protection.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan packet
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger

	// Owned by the Run goroutine.
	lastOffset int64
	recovery   *stateRecovery
	now        func() time.Time
}

var _ relay.Room = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections once
// Run is started.
func NewHub(cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan packet),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
		lastOffset: cfg.Head,
		recovery:   newStateRecovery(cfg.RecoveryWindow, cfg.Head),
		now:        time.Now,
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every registered client, including its sender.
// Events are fanned out in the order Broadcast is called.
func (h *Hub) Broadcast(ctx context.Context, ev relay.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- packet{offset: ev.Offset, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	if held, ok := client.hold(message); held {
		return ok
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration, unregistration,
// and message broadcasting. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	var prune <-chan time.Time
	if h.recovery.enabled() {
		ticker := time.NewTicker(h.recovery.window)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case p := <-h.broadcast:
			h.handleBroadcast(p)

		case <-prune:
			h.recovery.prune(h.now())
		}
	}
}

// handleRegister decides whether the client resumes an earlier session, fixes
// its watermark and starts its pumps.
func (h *Hub) handleRegister(client *Client) {
	sess := client.session

	missed, recovered := h.recovery.restore(client.resumeID, sess.Offset, h.now())
	if recovered && len(missed) > cap(client.send) {
		h.logger.Info("too many missed packets to resume session; falling back to backlog",
			"sessionId", client.resumeID,
			"missed", len(missed))
		recovered = false
	}

	if recovered {
		sess.ID = client.resumeID
		sess.Recovered = true
		for _, p := range missed {
			client.send <- p.payload
		}
	} else {
		sess.ID = uuid.NewString()
	}
	sess.Watermark = h.lastOffset

	// A replaying client cannot drain send until its backlog is written, so
	// live packets wait on its pending list. Recovered packets are already in
	// send and must stay ahead of live ones.
	client.pendingMu.Lock()
	client.replaying = !recovered
	client.pendingMu.Unlock()

	if err := sess.Advance(relay.Connected); err != nil {
		h.logger.Warn("unexpected session state on register", "error", err)
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.logger = client.logger.With("sessionId", sess.ID)
	client.logger.Info("client registered",
		"user", sess.User,
		"recovered", sess.Recovered,
		"offset", sess.Offset,
		"watermark", sess.Watermark,
		"clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)

	if err := client.session.Advance(relay.Disconnected); err != nil {
		h.logger.Warn("unexpected session state on unregister", "error", err)
	}
	h.recovery.persist(client.session.ID, h.now())

	client.logger.Info("client unregistered", "clients", clientCount)
}

// handleBroadcast records a packet for recovery and sends it to every client.
func (h *Hub) handleBroadcast(p packet) {
	p.at = h.now()
	if p.offset > h.lastOffset {
		h.lastOffset = p.offset
	}
	h.recovery.record(p)

	clients := h.getClientSnapshot()
	h.logger.Debug("broadcasting message", "id", p.offset, "clients", len(clients))

	clientsToRemove := h.broadcastToClients(clients, p.payload)
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastToClients sends the payload to all clients and returns those whose
// queue was full
func (h *Hub) broadcastToClients(clients []*Client, payload []byte) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			removed = append(removed, client)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock. A dropped client lost packets,
	// so it must reconnect through the backlog rather than resume.
	for _, client := range removed {
		close(client.send)
		if err := client.session.Advance(relay.Disconnected); err != nil {
			h.logger.Warn("unexpected session state on removal", "error", err)
		}
		client.logger.Warn("client removed due to full send buffer")
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					client.logger.Error("error closing client connection", "error", err)
				}
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
