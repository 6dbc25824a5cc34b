// ABOUTME: Event is the single payload carried by the conversation bus
// ABOUTME: Covers stored messages plus suggestion fragments and their terminal markers

package conversation

import (
	"log/slog"
	"time"

	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
)

// Kind names what an Event carries.
type Kind string

const (
	KindMessage  Kind = "message"
	KindFragment Kind = "fragment"
	KindDone     Kind = "done"
	KindError    Kind = "error"
)

// Event is published on the messages channel (KindMessage) or the
// suggestions channel (fragments followed by exactly one terminal marker per
// finished run).
type Event struct {
	Kind           Kind           `json:"type"`
	ConversationID string         `json:"conversation_id"`
	RunID          string         `json:"run_id,omitempty"`
	Message        *store.Message `json:"message,omitempty"`
	Text           string         `json:"text,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// IsTerminal reports whether the event ends a suggestion run.
func (e Event) IsTerminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// MessageEvent wraps a stored message.
func MessageEvent(msg *store.Message) Event {
	return Event{
		Kind:           KindMessage,
		ConversationID: msg.ConversationID,
		Message:        msg,
		Timestamp:      time.Now(),
	}
}

// FragmentEvent carries one piece of generated text.
func FragmentEvent(conversationID, runID, text string) Event {
	return Event{
		Kind:           KindFragment,
		ConversationID: conversationID,
		RunID:          runID,
		Text:           text,
		Timestamp:      time.Now(),
	}
}

// DoneEvent marks a run that finished normally.
func DoneEvent(conversationID, runID string) Event {
	return Event{
		Kind:           KindDone,
		ConversationID: conversationID,
		RunID:          runID,
		Timestamp:      time.Now(),
	}
}

// ErrorEvent marks a run that failed.
func ErrorEvent(conversationID, runID string, err error) Event {
	return Event{
		Kind:           KindError,
		ConversationID: conversationID,
		RunID:          runID,
		Error:          err.Error(),
		Timestamp:      time.Now(),
	}
}

// Bus is the event bus shared by the conversation service, the suggestion
// orchestrator and the transports.
type Bus = pubsub.Bus[Event]

// NewBus creates an event bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	return pubsub.NewBus[Event](logger)
}
