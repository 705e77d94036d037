// Package chatlog provides the append-only message log that backs chat history.
//
// Every message gets an integer id from the log at append time. Ids strictly
// increase but are not guaranteed to be gap-free, so readers catch up with
// ReadSince using the highest id they already hold.
package chatlog

import (
	"context"
	"errors"
)

// DefaultUser is recorded for messages whose sender did not claim a username.
const DefaultUser = "anonymous"

var (
	// ErrWrite is wrapped by every Append failure. A message that failed with
	// ErrWrite was not persisted and must not be broadcast.
	ErrWrite = errors.New("chatlog: write failed")

	// ErrRead is wrapped by every ReadSince and Head failure.
	ErrRead = errors.New("chatlog: read failed")

	// ErrClosed is returned, wrapped in ErrWrite or ErrRead, after Close.
	ErrClosed = errors.New("chatlog: log closed")
)

// Message is one row of chat history. It is immutable once appended.
type Message struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	User    string `json:"user"`
}

// Log is a durable, strictly ordered sequence of messages shared by all sessions.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append stores a message and returns it with its assigned id. The write is
	// durable when Append returns without error.
	Append(ctx context.Context, content, user string) (Message, error)

	// ReadSince returns every message with an id greater than offset in
	// ascending id order. An offset of zero or less reads from the beginning.
	ReadSince(ctx context.Context, offset int64) ([]Message, error)

	// Head returns the highest id in the log, or 0 when the log is empty.
	Head(ctx context.Context) (int64, error)

	Close() error
}
