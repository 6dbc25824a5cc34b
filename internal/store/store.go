// ABOUTME: Store interface and data types for conversation persistence
// ABOUTME: Defines Conversation, Message, Role and the Store contract shared by memory and SQLite backends

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidRole is returned when a message role is neither customer nor agent
var ErrInvalidRole = errors.New("invalid role")

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// ParseRole accepts the canonical role names plus the chat-completion
// aliases "user" and "assistant" used by older clients.
func ParseRole(s string) (Role, error) {
	switch s {
	case "customer", "user":
		return RoleCustomer, nil
	case "agent", "assistant":
		return RoleAgent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// Message is a single immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is a chat between a customer and support agents.
// Context is free text used to steer suggestions; empty means none.
type Conversation struct {
	ID        string     `json:"id"`
	Messages  []*Message `json:"messages"`
	Context   string     `json:"context"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// clone returns a deep copy that callers may read or modify without locking.
func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		msg := *m
		cp.Messages[i] = &msg
	}
	return &cp
}

// Store defines the interface for conversation persistence
type Store interface {
	ListConversations(ctx context.Context) ([]*Conversation, error)
	CreateConversation(ctx context.Context) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role Role, text string) (*Message, error)
	SetContext(ctx context.Context, conversationID, text string) error

	// Close releases any resources held by the store
	Close() error
}
