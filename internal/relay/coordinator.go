package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/relaychat/internal/chatlog"
)

// Coordinator sits between sessions and the log.
type Coordinator struct {
	log    chatlog.Log
	room   Room
	logger *slog.Logger

	// mu spans append and broadcast so fan-out order matches id order.
	mu sync.Mutex
}

// NewCoordinator wires a coordinator to an open log and the room it broadcasts to.
// A nil logger uses slog.Default.
func NewCoordinator(log chatlog.Log, room Room, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		log:    log,
		room:   room,
		logger: logger,
	}
}

// HandleMessage stores content on behalf of sess and broadcasts it. When the
// append fails nothing is broadcast and sender gets a chat error event.
func (c *Coordinator) HandleMessage(ctx context.Context, sess *Session, content string, sender Peer) (chatlog.Message, error) {
	user := ResolveUser(sess.User)

	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.log.Append(ctx, content, user)
	if err != nil {
		c.logger.Error("failed to store chat message",
			"sessionId", sess.ID,
			"user", user,
			"error", err)
		if sender != nil {
			if sendErr := sender.Send(ctx, ErrorEvent(content, "message could not be stored")); sendErr != nil {
				c.logger.Debug("failed to notify sender of store failure",
					"sessionId", sess.ID,
					"error", sendErr)
			}
		}
		return chatlog.Message{}, err
	}

	c.logger.Debug("stored chat message", "id", msg.ID, "user", user)

	if err := c.room.Broadcast(ctx, ChatEvent(msg)); err != nil {
		// The message is durable; clients that miss it get it from the backlog.
		c.logger.Warn("failed to broadcast chat message", "id", msg.ID, "error", err)
	}
	return msg, nil
}

// HandleConnect replays history to a new session that the transport did not
// resume. It returns the number of messages sent. A failed log read leaves
// the session with no backlog.
func (c *Coordinator) HandleConnect(ctx context.Context, sess *Session, peer Peer) (int, error) {
	if sess.Recovered {
		return 0, nil
	}

	backlog, err := c.log.ReadSince(ctx, sess.Offset)
	if err != nil {
		c.logger.Error("failed to read backlog",
			"sessionId", sess.ID,
			"offset", sess.Offset,
			"error", err)
		return 0, err
	}

	sent := 0
	for _, msg := range backlog {
		// Anything newer than the watermark arrives through the broadcast.
		if msg.ID > sess.Watermark {
			break
		}
		if err := peer.Send(ctx, ChatEvent(msg)); err != nil {
			c.logger.Warn("failed to replay backlog",
				"sessionId", sess.ID,
				"id", msg.ID,
				"error", err)
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		c.logger.Info("replayed backlog",
			"sessionId", sess.ID,
			"offset", sess.Offset,
			"count", sent)
	}
	return sent, nil
}
