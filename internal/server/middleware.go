package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// statusRecorder captures the response status. It passes Hijack through so
// WebSocket upgrades keep working behind the logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", r.ResponseWriter)
	}
	// A hijacked upgrade writes 101 itself.
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger logs one line per request. On a terminal it prints a compact
// coloured line (method path status duration), otherwise a structured entry.
type requestLogger struct {
	out      io.Writer
	colorize bool
	logger   *slog.Logger
}

func newRequestLogger(logger *slog.Logger) *requestLogger {
	out := os.Stdout
	return &requestLogger{
		out:      out,
		colorize: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
		logger:   logger,
	}
}

func (l *requestLogger) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		l.log(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (l *requestLogger) log(method, path string, status int, elapsed time.Duration) {
	if !l.colorize {
		l.logger.Info("request",
			"method", method,
			"path", path,
			"status", status,
			"duration", elapsed)
		return
	}

	c := statusColor(status)
	c.EnableColor()
	_, _ = fmt.Fprintf(l.out, "%s %s %s %s\n", method, path, c.Sprint(status), elapsed.Round(time.Microsecond))
}

func statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return color.New(color.FgRed)
	case status >= 400:
		return color.New(color.FgYellow)
	case status >= 300:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}

// chainMiddlewares applies multiple middlewares in order.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}
