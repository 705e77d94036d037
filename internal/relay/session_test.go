package relay

import (
	"testing"

	"github.com/Tyrowin/relaychat/internal/chatlog"
)

func TestResolveUser(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: chatlog.DefaultUser},
		{in: "   ", want: chatlog.DefaultUser},
		{in: "alice", want: "alice"},
	}

	for _, tt := range tests {
		if got := ResolveUser(tt.in); got != tt.want {
			t.Errorf("ResolveUser(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveOffset(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: "", want: 0},
		{in: "12", want: 12},
		{in: " 7 ", want: 7},
		{in: "-3", want: 0},
		{in: "abc", want: 0},
		{in: "1.5", want: 0},
	}

	for _, tt := range tests {
		if got := ResolveOffset(tt.in); got != tt.want {
			t.Errorf("ResolveOffset(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	sess := NewSession("s1", "bob", "4")

	if sess.State() != Connecting {
		t.Fatalf("Expected new session to be %s, got %s", Connecting, sess.State())
	}
	if sess.User != "bob" || sess.Offset != 4 {
		t.Errorf("Unexpected session fields: %+v", sess)
	}

	if err := sess.Advance(Connected); err != nil {
		t.Fatalf("Connecting -> Connected failed: %v", err)
	}
	if err := sess.Advance(Connecting); err == nil {
		t.Error("Expected Connected -> Connecting to fail")
	}
	if err := sess.Advance(Disconnected); err != nil {
		t.Fatalf("Connected -> Disconnected failed: %v", err)
	}
	if err := sess.Advance(Connected); err == nil {
		t.Error("Expected Disconnected to be terminal")
	}
}

func TestStateString(t *testing.T) {
	if Disconnected.String() != "disconnected" {
		t.Errorf("unexpected string %q", Disconnected.String())
	}
	if State(9).String() != "State(9)" {
		t.Errorf("unexpected string %q", State(9).String())
	}
}
