// Package server defines the socket frame format and utility helpers that are
// reused across client and hub logic.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/relay"
)

var errNotChatMessage = errors.New("frame is not a chat message")

// Frame is the JSON envelope of every socket event. A single WebSocket text
// message may carry several frames separated by newlines.
type Frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// packet is an encoded event as queued for a client.
type packet struct {
	offset  int64
	payload []byte
	at      time.Time
}

func encodeEvent(ev relay.Event) ([]byte, error) {
	args := ev.Args
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(outboundFrame{Event: ev.Name, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode %q event: %w", ev.Name, err)
	}
	return payload, nil
}

// decodeChatMessage extracts the text of a client "chat message" frame.
func decodeChatMessage(raw []byte) (string, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event != relay.EventChatMessage {
		return "", fmt.Errorf("%w: event %q", errNotChatMessage, frame.Event)
	}
	if len(frame.Args) == 0 {
		return "", fmt.Errorf("%w: missing content", errNotChatMessage)
	}

	var content string
	if err := json.Unmarshal(frame.Args[0], &content); err != nil {
		return "", fmt.Errorf("%w: content is not a string", errNotChatMessage)
	}
	return content, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
