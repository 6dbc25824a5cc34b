// ABOUTME: In-memory Store implementation, the default backend
// ABOUTME: Per-conversation locks keep mutations short and independent

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memConversation pairs a record with the lock guarding its mutation.
type memConversation struct {
	mu   sync.Mutex
	conv *Conversation
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*memConversation
	order []string // creation order for ListConversations
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*memConversation),
		now:  time.Now,
	}
}

func (m *MemoryStore) lookup(id string) (*memConversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// ListConversations returns snapshots of every conversation in creation order.
func (m *MemoryStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	records := make([]*memConversation, 0, len(m.order))
	for _, id := range m.order {
		records = append(records, m.byID[id])
	}
	m.mu.RUnlock()

	result := make([]*Conversation, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		result = append(result, rec.conv.clone())
		rec.mu.Unlock()
	}
	return result, nil
}

// CreateConversation stores a new conversation with no messages and no context.
func (m *MemoryStore) CreateConversation(ctx context.Context) (*Conversation, error) {
	now := m.now()
	conv := &Conversation{
		ID:        uuid.New().String(),
		Messages:  []*Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.byID[conv.ID] = &memConversation{conv: conv}
	m.order = append(m.order, conv.ID)
	m.mu.Unlock()

	return conv.clone(), nil
}

// GetConversation returns a snapshot of the conversation.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.conv.clone(), nil
}

// AppendMessage adds a message to the end of the conversation.
func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, role Role, text string) (*Message, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	rec, ok := m.lookup(conversationID)
	if !ok {
		return nil, ErrNotFound
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		CreatedAt:      m.now(),
	}

	rec.mu.Lock()
	rec.conv.Messages = append(rec.conv.Messages, msg)
	rec.conv.UpdatedAt = msg.CreatedAt
	rec.mu.Unlock()

	out := *msg
	return &out, nil
}

// SetContext replaces the conversation's context.
func (m *MemoryStore) SetContext(ctx context.Context, conversationID, text string) error {
	rec, ok := m.lookup(conversationID)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	rec.conv.Context = text
	rec.conv.UpdatedAt = m.now()
	rec.mu.Unlock()

	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
