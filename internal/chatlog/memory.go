package chatlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is a Log kept in process memory. History does not survive a restart.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	nextID   int64
	closed   bool
}

var _ Log = (*Memory)(nil)

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Append(ctx context.Context, content, user string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Message{}, fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	}

	msg := Message{ID: m.nextID, Content: content, User: user}
	m.nextID++
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) ReadSince(ctx context.Context, offset int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %w", ErrRead, ErrClosed)
	}

	// messages is sorted by id, so the suffix starts at the first id past offset.
	start := sort.Search(len(m.messages), func(i int) bool {
		return m.messages[i].ID > offset
	})

	out := make([]Message, len(m.messages)-start)
	copy(out, m.messages[start:])
	return out, nil
}

func (m *Memory) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("%w: %w", ErrRead, ErrClosed)
	}
	return m.nextID - 1, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
