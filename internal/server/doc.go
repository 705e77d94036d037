// Package server implements the HTTP and WebSocket side of the chat relay.
//
// The implementation is organized into specialized files for configuration, hub
// management, connection state recovery, clients, routing, and HTTP handlers.
// Chat semantics live in the relay package; this package only moves events
// between sockets and the coordinator.
package server
