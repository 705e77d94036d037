// Package server manages individual WebSocket clients, handling read/write
// pumps, backlog replay, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/chatlog"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBufferSize = 256

	// pendingLimit caps the live packets held for a client while its backlog
	// is still being written.
	pendingLimit = 64 * sendBufferSize
)

var errSendFailed = errors.New("client send queue unavailable")

// Handshake carries the values a client supplies when it connects.
type Handshake struct {
	Username     string
	ServerOffset string
	// ResumeID is the session id of a previous connection the client wants
	// to resume.
	ResumeID string
}

// HandshakeFromRequest reads the handshake from the upgrade query string.
func HandshakeFromRequest(r *http.Request) Handshake {
	q := r.URL.Query()
	return Handshake{
		Username:     q.Get("username"),
		ServerOffset: q.Get("serverOffset"),
		ResumeID:     q.Get("pid"),
	}
}

// Client represents a WebSocket client connection in the chat system.
// It manages the connection state, message sending channel, hub reference,
// and the relay session bound to the connection.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	coord    *relay.Coordinator
	addr     string
	closed   bool
	session  *relay.Session
	resumeID string
	logger   *slog.Logger

	// While replaying, the hub appends live packets to pending instead of
	// send. The write pump drains pending and clears replaying.
	pendingMu sync.Mutex
	replaying bool
	pending   [][]byte
}

var _ relay.Peer = (*Client)(nil)

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub, coordinator and handshake. The client's send channel is buffered
// to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, coord *relay.Coordinator, hs Handshake, addr string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		hub:      hub,
		coord:    coord,
		addr:     addr,
		session:  relay.NewSession("", hs.Username, hs.ServerOffset),
		resumeID: hs.ResumeID,
		logger:   logger.ForConnection(hub.logger, addr),
	}
}

// Send queues ev behind any live broadcasts already waiting for this client.
func (c *Client) Send(_ context.Context, ev relay.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if !c.hub.safeSend(c, payload) {
		return errSendFailed
	}
	return nil
}

// directPeer writes events straight to the connection. Only the write pump
// may use it.
type directPeer struct {
	c *Client
}

func (p directPeer) Send(_ context.Context, ev relay.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := p.c.writeDirect(payload); err != nil {
		return fmt.Errorf("write %q event: %w", ev.Name, err)
	}
	return nil
}

func (c *Client) writeDirect(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// hold queues message on the pending list while the client is replaying.
// held is false once replay is over; ok is false when the list is full.
func (c *Client) hold(message []byte) (held, ok bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if !c.replaying {
		return false, true
	}
	if len(c.pending) >= pendingLimit {
		return true, false
	}
	c.pending = append(c.pending, message)
	return true, true
}

// drainPending writes the packets held during replay and then hands live
// traffic back to the send channel.
func (c *Client) drainPending() bool {
	for {
		c.pendingMu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.replaying = false
			c.pendingMu.Unlock()
			return true
		}
		c.pendingMu.Unlock()

		for _, message := range batch {
			if err := c.writeDirect(message); err != nil {
				c.logger.Warn("error writing held message", "error", err)
				return false
			}
		}
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	// Check for expected close scenarios
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info("client disconnected", "reason", err)
		return true
	}

	// Check for network errors
	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info("client connection closed", "reason", err)
		return true
	}

	// Log unexpected errors with more context
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Warn("unexpected websocket close", "error", err)
		return true
	}

	c.logger.Warn("websocket read error", "error", err)
	return true
}

// processMessage decodes a raw frame and hands the chat message to the
// coordinator. It returns true if the message was stored.
func (c *Client) processMessage(rawMessage []byte) bool {
	content, err := decodeChatMessage(rawMessage)
	if err != nil {
		c.logger.Warn("invalid message", "error", err)
		return false
	}

	if _, err := c.coord.HandleMessage(c.hub.ctx, c.session, content, c); err != nil {
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Error("error closing connection in readPump", "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	if !c.announceSession() {
		return
	}
	if !c.replayBacklog() {
		return
	}
	if !c.drainPending() {
		return
	}

	for c.processWriteEvent(ticker) {
	}
}

// announceSession tells the client which session it is bound to.
func (c *Client) announceSession() bool {
	ev := relay.SessionEvent(c.session.ID, c.session.Recovered)
	if err := (directPeer{c}).Send(c.hub.ctx, ev); err != nil {
		c.logger.Warn("error writing session event", "error", err)
		return false
	}
	return true
}

// replayBacklog writes missed history before any queued live packet. A log
// read failure leaves the client without backlog; a write failure ends the pump.
func (c *Client) replayBacklog() bool {
	_, err := c.coord.HandleConnect(c.hub.ctx, c.session, directPeer{c})
	if err != nil && !errors.Is(err, chatlog.ErrRead) {
		return false
	}
	return true
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Error("error closing connection in writePump", "error", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Error("error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes a text message and any queued messages
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Error("error creating writer", "error", err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Error("error writing message", "error", err)
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.logger.Error("error closing writer", "error", err)
		return false
	}
	return true
}

// writeQueuedMessages appends the packets already waiting, newline separated
func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.logger.Error("error writing newline", "error", err)
			return false
		}
		if _, err := w.Write(message); err != nil {
			c.logger.Error("error writing queued message", "error", err)
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error("error writing ping message", "error", err)
		return false
	}
	return true
}
