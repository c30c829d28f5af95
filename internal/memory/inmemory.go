package memory

import (
	"context"
	"sync"
)

// InMemory is a process-local Memory for development and tests. Mutation is
// serialized with a single mutex; critical sections never perform I/O.
type InMemory struct {
	maxMessages int
	mu          sync.Mutex
	store       map[string][]Message
}

// NewInMemory creates an in-process memory retaining up to maxTurns turns
// (2*maxTurns messages) per session.
func NewInMemory(maxTurns int) *InMemory {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &InMemory{
		maxMessages: maxTurns * 2,
		store:       make(map[string][]Message),
	}
}

func (m *InMemory) Read(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.store[sessionID]
	out := make([]Message, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *InMemory) Append(_ context.Context, sessionID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[sessionID] = trim(append(m.store[sessionID], messages...), m.maxMessages)
	return nil
}

func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, sessionID)
	return nil
}
