package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/chatlog"
	"github.com/Tyrowin/relaychat/internal/server"
)

const readTimeout = 3 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// switchableLog is a memory log whose appends can be made to fail.
type switchableLog struct {
	*chatlog.Memory
	failAppend atomic.Bool
}

func (l *switchableLog) Append(ctx context.Context, content, user string) (chatlog.Message, error) {
	if l.failAppend.Load() {
		return chatlog.Message{}, errors.Join(chatlog.ErrWrite, errors.New("simulated store outage"))
	}
	return l.Memory.Append(ctx, content, user)
}

func newSwitchableLog() *switchableLog {
	return &switchableLog{Memory: chatlog.NewMemory()}
}

// gatedLog is a memory log whose full-history reads wait until release.
type gatedLog struct {
	*chatlog.Memory
	gate chan struct{}
	once sync.Once
}

func newGatedLog() *gatedLog {
	return &gatedLog{Memory: chatlog.NewMemory(), gate: make(chan struct{})}
}

func (l *gatedLog) ReadSince(ctx context.Context, offset int64) ([]chatlog.Message, error) {
	if offset == 0 {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, errors.Join(chatlog.ErrRead, ctx.Err())
		}
	}
	return l.Memory.ReadSince(ctx, offset)
}

func (l *gatedLog) release() {
	l.once.Do(func() { close(l.gate) })
}

func seed(t *testing.T, log chatlog.Log, rows ...[2]string) {
	t.Helper()
	for _, row := range rows {
		if _, err := log.Append(context.Background(), row[0], row[1]); err != nil {
			t.Fatalf("seed append failed: %v", err)
		}
	}
}

// testEnv is a running relay behind an httptest server.
type testEnv struct {
	srv   *server.Server
	http  *httptest.Server
	wsURL string
}

func newTestEnv(t *testing.T, log chatlog.Log, cfg *server.Config) *testEnv {
	t.Helper()

	if cfg == nil {
		cfg = server.NewConfig()
	}
	srv, err := server.New(context.Background(), cfg, log, quietLogger())
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	srv.StartHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		if err := srv.Hub().Shutdown(2 * time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
		ts.Close()
	})

	return &testEnv{
		srv:   srv,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// waitForClients polls until the hub has n clients.
func (e *testEnv) waitForClients(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if e.srv.Hub().ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, have %d", n, e.srv.Hub().ClientCount())
}

type wireFrame struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// wsClient reads newline separated frames from a test connection.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []wireFrame
}

type handshake struct {
	username     string
	serverOffset string
	pid          string
}

func (e *testEnv) dial(t *testing.T, hs handshake) *wsClient {
	t.Helper()

	q := url.Values{}
	if hs.username != "" {
		q.Set("username", hs.username)
	}
	if hs.serverOffset != "" {
		q.Set("serverOffset", hs.serverOffset)
	}
	if hs.pid != "" {
		q.Set("pid", hs.pid)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:3000")

	conn, resp, err := dialer.Dial(e.wsURL+"?"+q.Encode(), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}

	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *wsClient) next() wireFrame {
	c.t.Helper()

	for len(c.pending) == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.t.Fatalf("set read deadline: %v", err)
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("Failed to read frame: %v", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}
			var frame wireFrame
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				c.t.Fatalf("Invalid frame %q: %v", line, err)
			}
			c.pending = append(c.pending, frame)
		}
	}

	frame := c.pending[0]
	c.pending = c.pending[1:]
	return frame
}

// expectSession reads the session frame and returns (pid, recovered).
func (c *wsClient) expectSession() (string, bool) {
	c.t.Helper()

	frame := c.next()
	if frame.Event != "session" || len(frame.Args) != 2 {
		c.t.Fatalf("Expected session frame, got %+v", frame)
	}
	pid, _ := frame.Args[0].(string)
	recovered, _ := frame.Args[1].(bool)
	return pid, recovered
}

func (c *wsClient) expectChat(content, id, user string) {
	c.t.Helper()

	frame := c.next()
	if frame.Event != "chat message" {
		c.t.Fatalf("Expected chat message, got %+v", frame)
	}
	if len(frame.Args) != 3 || frame.Args[0] != content || frame.Args[1] != id || frame.Args[2] != user {
		c.t.Fatalf("Expected (%q, %q, %q), got %v", content, id, user, frame.Args)
	}
}

// expectSilence asserts that nothing arrives within d. A read timeout breaks
// the connection, so this must be the last read on c.
func (c *wsClient) expectSilence(d time.Duration) {
	c.t.Helper()

	if len(c.pending) > 0 {
		c.t.Fatalf("Expected no more frames, have %+v", c.pending)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		c.t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("Expected no more frames, got %q", data)
	}
}

func (c *wsClient) sendChat(content string) {
	c.t.Helper()

	frame := map[string]any{"event": "chat message", "args": []string{content}}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("Failed to send message: %v", err)
	}
}

func (c *wsClient) close() {
	c.t.Helper()

	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		c.t.Logf("close message: %v", err)
	}
	_ = c.conn.Close()
}
