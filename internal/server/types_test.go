package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Tyrowin/relaychat/internal/chatlog"
	"github.com/Tyrowin/relaychat/internal/relay"
)

func TestDecodeChatMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "valid", raw: `{"event":"chat message","args":["hello"]}`, want: "hello"},
		{name: "empty content", raw: `{"event":"chat message","args":[""]}`, want: ""},
		{name: "extra args", raw: `{"event":"chat message","args":["hi",1]}`, want: "hi"},
		{name: "other event", raw: `{"event":"typing","args":["x"]}`, wantErr: true},
		{name: "no args", raw: `{"event":"chat message","args":[]}`, wantErr: true},
		{name: "non string", raw: `{"event":"chat message","args":[42]}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeChatMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got content %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecodeChatMessageWrongEvent(t *testing.T) {
	_, err := decodeChatMessage([]byte(`{"event":"typing","args":[]}`))
	if !errors.Is(err, errNotChatMessage) {
		t.Errorf("Expected errNotChatMessage, got %v", err)
	}
}

func TestEncodeChatEvent(t *testing.T) {
	payload, err := encodeEvent(relay.ChatEvent(chatlog.Message{ID: 7, Content: "hi", User: "u1"}))
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}

	want := `{"event":"chat message","args":["hi","7","u1"]}`
	if string(payload) != want {
		t.Errorf("Expected %s, got %s", want, payload)
	}
}

func TestEncodeEventWithoutArgs(t *testing.T) {
	payload, err := encodeEvent(relay.Event{Name: "ping"})
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}

	var frame outboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if frame.Args == nil {
		t.Error("Expected args to encode as an empty array")
	}
}
