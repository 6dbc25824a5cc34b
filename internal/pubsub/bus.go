// ABOUTME: In-memory fan-out bus keyed by conversation and channel
// ABOUTME: Publishes to unbounded per-subscriber queues without holding the lock during delivery

package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Channel is a named category of events within a conversation.
type Channel string

const (
	ChannelMessages    Channel = "messages"
	ChannelSuggestions Channel = "suggestions"
)

// ParseChannel validates a channel name coming from a client.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelMessages, ChannelSuggestions:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Key identifies one subscriber set.
type Key struct {
	ConversationID string
	Channel        Channel
}

// Subscription is one viewer's interest in a Key. It owns an unbounded queue.
type Subscription[T any] struct {
	id    string
	key   Key
	queue *Queue[T]
}

// ID returns the subscription identifier.
func (s *Subscription[T]) ID() string { return s.id }

// Key returns the conversation and channel this subscription listens on.
func (s *Subscription[T]) Key() Key { return s.key }

// C returns the delivery channel. It is closed once the subscription is removed.
func (s *Subscription[T]) C() <-chan T { return s.queue.C() }

// Observer receives bus activity for instrumentation. Implementations must not block.
type Observer interface {
	Published(channel Channel, delivered int)
	SubscribersChanged(channel Channel, delta int)
}

// Bus provides pub/sub for one payload type. Subscribers register for a
// (conversation, channel) key and receive every payload published to that
// key while they are registered. Nothing is retained for late subscribers.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[Key]map[string]*Subscription[T]
	closed      bool
	observer    Observer
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus[T any](logger *slog.Logger) *Bus[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[T]{
		subscribers: make(map[Key]map[string]*Subscription[T]),
		logger:      logger.With("component", "bus"),
	}
}

// SetObserver installs an instrumentation hook. Call before first use.
func (b *Bus[T]) SetObserver(o Observer) {
	b.observer = o
}

// Subscribe registers a new, empty delivery queue for the key and returns
// immediately. The subscription is removed automatically when ctx is done.
// On a closed bus the returned subscription is already closed.
func (b *Bus[T]) Subscribe(ctx context.Context, conversationID string, channel Channel) *Subscription[T] {
	key := Key{ConversationID: conversationID, Channel: channel}
	sub := &Subscription[T]{
		id:    uuid.New().String(),
		key:   key,
		queue: NewQueue[T](),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.queue.Close()
		return sub
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]*Subscription[T])
	}
	b.subscribers[key][sub.id] = sub
	b.mu.Unlock()

	if b.observer != nil {
		b.observer.SubscribersChanged(channel, 1)
	}
	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"channel", channel,
		"sub_id", sub.id)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(sub)
		case <-sub.queue.done:
		}
	}()

	return sub
}

// Unsubscribe removes the subscription and closes its queue. Idempotent.
// Payloads published after Unsubscribe returns are never delivered to it.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	removed := false
	if subs, ok := b.subscribers[sub.key]; ok {
		if _, exists := subs[sub.id]; exists {
			delete(subs, sub.id)
			removed = true
		}
		if len(subs) == 0 {
			delete(b.subscribers, sub.key)
		}
	}
	b.mu.Unlock()

	sub.queue.Close()

	if !removed {
		return
	}
	if b.observer != nil {
		b.observer.SubscribersChanged(sub.key.Channel, -1)
	}
	b.logger.Debug("subscriber removed",
		"conversation_id", sub.key.ConversationID,
		"channel", sub.key.Channel,
		"sub_id", sub.id)
}

// Publish delivers payload to every subscription currently registered for
// the key and returns how many queues accepted it. It never blocks on a
// consumer. A queue removed between snapshot and delivery drops the payload.
func (b *Bus[T]) Publish(conversationID string, channel Channel, payload T) int {
	key := Key{ConversationID: conversationID, Channel: channel}

	b.mu.RLock()
	subs := b.subscribers[key]
	targets := make([]*Subscription[T], 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.queue.Push(payload) {
			delivered++
		}
	}

	if b.observer != nil {
		b.observer.Published(channel, delivered)
	}
	return delivered
}

// SubscriberCount returns the number of live subscriptions for the key.
func (b *Bus[T]) SubscriberCount(conversationID string, channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[Key{ConversationID: conversationID, Channel: channel}])
}

// Close removes every subscription. Later Subscribe calls return closed subscriptions.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	b.closed = true
	all := b.subscribers
	b.subscribers = make(map[Key]map[string]*Subscription[T])
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.queue.Close()
			if b.observer != nil {
				b.observer.SubscribersChanged(sub.key.Channel, -1)
			}
		}
	}

	b.logger.Debug("bus closed")
}
