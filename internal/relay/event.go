package relay

import (
	"context"
	"strconv"

	"github.com/Tyrowin/relaychat/internal/chatlog"
)

// Event names on the wire.
const (
	EventChatMessage = "chat message"
	EventChatError   = "chat error"
	EventSession     = "session"
)

// Event is one outbound socket event.
type Event struct {
	Name string
	Args []any

	// Offset is the message id carried by a chat message event, 0 otherwise.
	Offset int64
}

// ChatEvent carries msg as (content, id, user).
func ChatEvent(msg chatlog.Message) Event {
	return Event{
		Name:   EventChatMessage,
		Args:   []any{msg.Content, strconv.FormatInt(msg.ID, 10), msg.User},
		Offset: msg.ID,
	}
}

// ErrorEvent tells a sender that content was not stored.
func ErrorEvent(content, reason string) Event {
	return Event{
		Name: EventChatError,
		Args: []any{content, reason},
	}
}

// SessionEvent tells a client its session id and whether it was resumed.
func SessionEvent(id string, recovered bool) Event {
	return Event{
		Name: EventSession,
		Args: []any{id, recovered},
	}
}

// Room delivers an event to every connected session, including the sender.
type Room interface {
	Broadcast(ctx context.Context, ev Event) error
}

// Peer delivers an event to a single session.
type Peer interface {
	Send(ctx context.Context, ev Event) error
}
