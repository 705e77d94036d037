// Package relay contains the broadcast coordinator: it appends incoming chat
// messages to the log, fans them out to every connected session and replays
// missed history to sessions that the transport could not resume.
package relay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Tyrowin/relaychat/internal/chatlog"
)

// State is the lifecycle of a session. Disconnected is terminal; a reconnect is
// always a new Session.
type State int

const (
	Connecting State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one live connection as seen by the coordinator.
type Session struct {
	// ID identifies the session to the transport. A resumed session keeps the
	// ID it had before the disconnect.
	ID string

	// User is the resolved username, never empty.
	User string

	// Offset is the highest message id the client claims to have.
	Offset int64

	// Recovered is set when the transport already redelivered what the
	// session missed while it was away.
	Recovered bool

	// Watermark is the highest message id fanned out before the session joined
	// the live broadcast. Anything above it reaches the session live.
	Watermark int64

	state State
}

// NewSession builds a session in the Connecting state from raw handshake values.
func NewSession(id, username, serverOffset string) *Session {
	return &Session{
		ID:     id,
		User:   ResolveUser(username),
		Offset: ResolveOffset(serverOffset),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Advance moves the session to next. States only move forward.
func (s *Session) Advance(next State) error {
	if next <= s.state {
		return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.state, next)
	}
	s.state = next
	return nil
}

// ResolveUser returns the claimed username or chatlog.DefaultUser.
func ResolveUser(username string) string {
	if strings.TrimSpace(username) == "" {
		return chatlog.DefaultUser
	}
	return username
}

// ResolveOffset parses a client supplied offset. Missing or malformed values
// mean the client has nothing yet.
func ResolveOffset(serverOffset string) int64 {
	offset, err := strconv.ParseInt(strings.TrimSpace(serverOffset), 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
