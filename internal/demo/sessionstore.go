package demo

import (
	"context"
	"sync"

	"longagent/internal/contracts"
)

// MemorySessionStore is an in-process contracts.SessionStore, standing in
// for the real conversation-history persistence layer spec.md §6 names as
// an external collaborator.
type MemorySessionStore struct {
	mu       sync.Mutex
	status   map[string]string
	meta     map[string]map[string]interface{}
	messages map[string][]contracts.Message
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		status:   map[string]string{},
		meta:     map[string]map[string]interface{}{},
		messages: map[string][]contracts.Message{},
	}
}

func (m *MemorySessionStore) TouchSession(ctx context.Context, sessionID string, meta map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[sessionID] = meta
	if _, ok := m.status[sessionID]; !ok {
		m.status[sessionID] = "running"
	}
	return nil
}

func (m *MemorySessionStore) MarkSessionStatus(ctx context.Context, sessionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[sessionID] = status
	return nil
}

func (m *MemorySessionStore) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]contracts.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]contracts.Message(nil), msgs...), nil
}

func (m *MemorySessionStore) ReplaceMessages(ctx context.Context, sessionID string, messages []contracts.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[sessionID] = append([]contracts.Message(nil), messages...)
	return nil
}

// Status returns sessionID's last recorded status, or "" if unknown.
func (m *MemorySessionStore) Status(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[sessionID]
}
