// ABOUTME: Service is the conversation layer the HTTP router talks to
// ABOUTME: Stores messages, publishes them in append order and signals each append to the suggestion supervisor

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
)

// ErrEmptyMessage is returned when a message has no visible text.
var ErrEmptyMessage = errors.New("message text is empty")

// Appended is the completion signal emitted after a message is stored and published.
type Appended struct {
	ConversationID string
	Message        *store.Message
}

// Recorder receives append counts for instrumentation. Implementations must not block.
type Recorder interface {
	MessageAppended(role store.Role)
}

// Service wraps storage and the event bus so that every stored message is
// announced to live viewers.
type Service struct {
	store    store.Store
	bus      *Bus
	signals  *pubsub.Queue[Appended]
	recorder Recorder
	logger   *slog.Logger

	// gates serializes append+publish+signal per conversation so events
	// leave in the same order the store accepted them.
	gates sync.Map // conversation id -> *sync.Mutex
}

// New creates a conversation service. Pass nil logger for default.
func New(st store.Store, bus *Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		bus:     bus,
		signals: pubsub.NewQueue[Appended](),
		logger:  logger.With("component", "conversation"),
	}
}

// SetRecorder installs an instrumentation hook. Call before first use.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Bus returns the event bus messages are published on.
func (s *Service) Bus() *Bus {
	return s.bus
}

// Appended returns the stream of append signals. It is closed by Close.
func (s *Service) Appended() <-chan Appended {
	return s.signals.C()
}

// List returns every conversation.
func (s *Service) List(ctx context.Context) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Create starts a new empty conversation.
func (s *Service) Create(ctx context.Context) (*store.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// Get returns a snapshot of one conversation or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// SetContext replaces the conversation's context. Runs started afterwards see it.
func (s *Service) SetContext(ctx context.Context, id, text string) error {
	if err := s.store.SetContext(ctx, id, text); err != nil {
		return err
	}
	s.logger.Debug("context updated", "conversation_id", id, "length", len(text))
	return nil
}

// AppendMessage stores a message, publishes it on the messages channel and
// emits an Appended signal. It returns as soon as the message is stored;
// suggestion work happens elsewhere. An unknown conversation returns
// store.ErrNotFound with nothing published or signalled.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, role store.Role, text string) (*store.Message, error) {
	if !role.Valid() {
		return nil, store.ErrInvalidRole
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	// Publish and Push never block, so holding the gate across them orders
	// delivery without waiting on any consumer.
	gate := s.lockGate(conversationID)
	defer gate.Unlock()

	msg, err := s.store.AppendMessage(ctx, conversationID, role, text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.gates.CompareAndDelete(conversationID, gate)
		}
		return nil, err
	}

	delivered := s.bus.Publish(conversationID, pubsub.ChannelMessages, MessageEvent(msg))
	s.signals.Push(Appended{ConversationID: conversationID, Message: msg})

	if s.recorder != nil {
		s.recorder.MessageAppended(role)
	}
	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"role", role,
		"delivered", delivered)

	return msg, nil
}

// lockGate returns the conversation's gate, locked. A gate dropped while
// this caller waited on it is retried so every appender shares one mutex.
func (s *Service) lockGate(conversationID string) *sync.Mutex {
	for {
		v, _ := s.gates.LoadOrStore(conversationID, &sync.Mutex{})
		gate := v.(*sync.Mutex)
		gate.Lock()
		if cur, ok := s.gates.Load(conversationID); ok && cur == v {
			return gate
		}
		gate.Unlock()
	}
}

// Close stops the append signal stream. Pending signals are dropped.
func (s *Service) Close() {
	s.signals.Close()
}
