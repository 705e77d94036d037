// Package server wires the message log, the broadcast coordinator and the hub
// into one relay server.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/chatlog"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// Server owns the hub and coordinator for one message log. The log is opened
// and closed by the caller.
type Server struct {
	hub     *Hub
	coord   *relay.Coordinator
	origins *originPolicy
	logger  *slog.Logger
}

// New builds a Server on an open log. The hub is not started; call StartHub.
func New(ctx context.Context, cfg *Config, log chatlog.Log, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	head, err := log.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("read log head: %w", err)
	}

	hub := NewHub(HubConfig{
		RecoveryWindow: cfg.RecoveryWindow,
		Head:           head,
		Logger:         logger,
	})

	return &Server{
		hub:     hub,
		coord:   relay.NewCoordinator(log, hub, logger),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
	}, nil
}

// Hub returns the hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}
