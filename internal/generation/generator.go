// ABOUTME: Generator contract for streaming suggested replies
// ABOUTME: Defines the fragment sequence type and the transport error returned by backends

package generation

import (
	"context"
	"fmt"
	"iter"

	"github.com/2389/suggest-gateway/internal/store"
)

// Generator produces a suggested agent reply for a conversation as a lazy,
// finite sequence of text fragments. A non-nil error ends the sequence.
// Breaking out of the loop early releases the backend connection.
type Generator interface {
	StreamSuggestion(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error]
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error]

// StreamSuggestion calls f.
func (f Func) StreamSuggestion(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error] {
	return f(ctx, conv)
}

// TransportError reports a failure talking to the generation backend:
// unreachable host, non-success status, timeout or a broken stream.
type TransportError struct {
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation backend returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation backend: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
