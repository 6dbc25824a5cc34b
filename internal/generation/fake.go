// ABOUTME: Scripted generators for tests and backend-free development runs
// ABOUTME: Fake replays fixed fragments, Echo acknowledges the last customer message

package generation

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/2389/suggest-gateway/internal/store"
)

// Fake is a scripted Generator.
type Fake struct {
	// Fragments are yielded in order.
	Fragments []string
	// Err, when set, is yielded after ErrAfter fragments.
	Err      error
	ErrAfter int
	// Delay is waited before each fragment.
	Delay time.Duration
	// Step, when set, must deliver a value before each fragment is yielded.
	Step <-chan struct{}

	mu    sync.Mutex
	calls []*store.Conversation
}

// StreamSuggestion replays the script. It honours ctx cancellation between fragments.
func (f *Fake) StreamSuggestion(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error] {
	f.mu.Lock()
	f.calls = append(f.calls, conv)
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, fragment := range f.Fragments {
			if f.Err != nil && i == f.ErrAfter {
				yield("", f.Err)
				return
			}
			if !f.wait(ctx) {
				yield("", ctx.Err())
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
		if f.Err != nil && f.ErrAfter >= len(f.Fragments) {
			yield("", f.Err)
		}
	}
}

func (f *Fake) wait(ctx context.Context) bool {
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}
	if f.Step != nil {
		select {
		case <-f.Step:
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

// Calls returns the conversations the fake was invoked with.
func (f *Fake) Calls() []*store.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Conversation, len(f.calls))
	copy(out, f.calls)
	return out
}

// Echo is a development generator that needs no backend. It suggests an
// acknowledgement of the last customer message, word by word.
type Echo struct {
	Delay time.Duration
}

// StreamSuggestion yields the acknowledgement split on spaces.
func (e Echo) StreamSuggestion(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error] {
	last := ""
	for _, msg := range conv.Messages {
		if msg.Role == store.RoleCustomer {
			last = msg.Text
		}
	}
	reply := "Bonjour, merci pour votre message. Je regarde cela tout de suite."
	if last != "" {
		reply = "Bonjour, merci pour votre message « " + last + " ». Je regarde cela tout de suite."
	}

	words := strings.SplitAfter(reply, " ")
	fake := &Fake{Fragments: words, Delay: e.Delay}
	return fake.StreamSuggestion(ctx, conv)
}

var (
	_ Generator = (*Fake)(nil)
	_ Generator = Echo{}
)
