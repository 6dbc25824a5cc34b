// ABOUTME: Orchestrator runs at most one suggestion generation per conversation
// ABOUTME: Forwards generated fragments to the suggestions channel and ends each surviving run with done or error

package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/generation"
	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
)

// DefaultRunTimeout bounds a whole run, including the backend request.
const DefaultRunTimeout = 90 * time.Second

// State is the lifecycle state of a conversation's latest run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// CancelToken is checked by a run before each forward step. Cancelling it
// also cancels the run's context so the generator releases its connection.
type CancelToken struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// Cancel marks the token and cancels the run context. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
	if t.cancel != nil {
		t.cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// ConversationSource resolves a conversation snapshot at run start.
type ConversationSource interface {
	Get(ctx context.Context, id string) (*store.Conversation, error)
}

// Recorder receives run lifecycle counts for instrumentation. Implementations must not block.
type Recorder interface {
	RunStarted()
	RunFinished(state State)
	FragmentForwarded()
}

// Options tunes an Orchestrator.
type Options struct {
	RunTimeout time.Duration
	Recorder   Recorder
}

type run struct {
	id    string
	token *CancelToken
	state State
	// exited is set once the run goroutine has returned
	exited bool
}

// slot holds the current run for one conversation. Its mutex is held for
// every forward step and for supersession, never across a generator call.
type slot struct {
	mu      sync.Mutex
	current *run
}

// Orchestrator owns the per-conversation single-flight generation runs.
type Orchestrator struct {
	source     ConversationSource
	generator  generation.Generator
	bus        *conversation.Bus
	recorder   Recorder
	runTimeout time.Duration
	logger     *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewOrchestrator creates an orchestrator. Pass nil logger for default.
func NewOrchestrator(source ConversationSource, generator generation.Generator, bus *conversation.Bus, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		source:     source,
		generator:  generator,
		bus:        bus,
		recorder:   opts.Recorder,
		runTimeout: opts.RunTimeout,
		logger:     logger.With("component", "suggest"),
		baseCtx:    ctx,
		stop:       stop,
		slots:      make(map[string]*slot),
	}
}

func (o *Orchestrator) slotFor(conversationID string, create bool) *slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	sl, ok := o.slots[conversationID]
	if !ok && create {
		sl = &slot{}
		o.slots[conversationID] = sl
	}
	return sl
}

// StartRun supersedes any in-flight run for the conversation and starts a
// new one in the background. It never waits for the previous run; once it
// returns, the previous run forwards nothing more. The returned run id tags
// every event of the new run. After Close it starts nothing and returns "".
func (o *Orchestrator) StartRun(conversationID string) string {
	sl := o.slotFor(conversationID, true)

	ctx, cancel := context.WithTimeout(o.baseCtx, o.runTimeout)
	r := &run{
		id:    uuid.New().String(),
		token: &CancelToken{cancel: cancel},
		state: StateRunning,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return ""
	}
	o.wg.Add(1)
	o.mu.Unlock()

	sl.mu.Lock()
	if prev := sl.current; prev != nil && prev.state == StateRunning {
		prev.token.Cancel()
		prev.state = StateCancelled
		o.logger.Debug("run superseded",
			"conversation_id", conversationID,
			"run_id", prev.id,
			"by", r.id)
	}
	sl.current = r
	sl.mu.Unlock()

	o.active.Add(1)
	if o.recorder != nil {
		o.recorder.RunStarted()
	}
	o.logger.Debug("run started", "conversation_id", conversationID, "run_id", r.id)

	go func() {
		defer o.wg.Done()
		defer cancel()
		state := o.execute(ctx, conversationID, sl, r)

		sl.mu.Lock()
		r.exited = true
		sl.mu.Unlock()

		o.active.Add(-1)
		if o.recorder != nil {
			o.recorder.RunFinished(state)
		}
		o.logger.Debug("run finished",
			"conversation_id", conversationID,
			"run_id", r.id,
			"state", state)
	}()

	return r.id
}

// execute drives one run to its final state.
func (o *Orchestrator) execute(ctx context.Context, conversationID string, sl *slot, r *run) (state State) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("suggestion generator panicked",
				"conversation_id", conversationID,
				"run_id", r.id,
				"panic", p)
			err := fmt.Errorf("suggestion generator panicked: %v", p)
			state = o.terminate(sl, r, conversation.ErrorEvent(conversationID, r.id, err), StateFailed)
		}
	}()

	conv, err := o.source.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Debug("conversation vanished before run", "conversation_id", conversationID, "run_id", r.id)
		return o.finish(sl, r, StateFailed)
	}
	if err != nil {
		o.logger.Error("loading conversation for run", "conversation_id", conversationID, "error", err)
		return o.terminate(sl, r, conversation.ErrorEvent(conversationID, r.id, fmt.Errorf("loading conversation: %w", err)), StateFailed)
	}

	for fragment, err := range o.generator.StreamSuggestion(ctx, conv) {
		if err != nil {
			if !r.token.Cancelled() {
				o.logger.Warn("suggestion stream failed",
					"conversation_id", conversationID,
					"run_id", r.id,
					"error", err)
			}
			return o.terminate(sl, r, conversation.ErrorEvent(conversationID, r.id, err), StateFailed)
		}
		if !o.forward(sl, r, conversation.FragmentEvent(conversationID, r.id, fragment)) {
			return StateCancelled
		}
	}

	return o.terminate(sl, r, conversation.DoneEvent(conversationID, r.id), StateCompleted)
}

// forward publishes a fragment unless the run was cancelled.
func (o *Orchestrator) forward(sl *slot, r *run, ev conversation.Event) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if r.token.Cancelled() {
		return false
	}
	o.bus.Publish(ev.ConversationID, pubsub.ChannelSuggestions, ev)
	if o.recorder != nil {
		o.recorder.FragmentForwarded()
	}
	return true
}

// terminate publishes the terminal marker and records the final state,
// unless the run was cancelled, in which case nothing is published.
func (o *Orchestrator) terminate(sl *slot, r *run, marker conversation.Event, final State) State {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if r.token.Cancelled() {
		r.state = StateCancelled
		return StateCancelled
	}
	o.bus.Publish(marker.ConversationID, pubsub.ChannelSuggestions, marker)
	r.state = final
	return final
}

// finish records a final state without publishing anything.
func (o *Orchestrator) finish(sl *slot, r *run, final State) State {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if r.token.Cancelled() {
		r.state = StateCancelled
		return StateCancelled
	}
	r.state = final
	return final
}

// State reports StateRunning while a run executes for the conversation and
// StateIdle otherwise. LastOutcome keeps how the latest run ended.
func (o *Orchestrator) State(conversationID string) State {
	sl := o.slotFor(conversationID, false)
	if sl == nil {
		return StateIdle
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current == nil || sl.current.exited {
		return StateIdle
	}
	return sl.current.state
}

// LastOutcome returns the state of the conversation's latest run, terminal
// states included, or StateIdle if none was ever started.
func (o *Orchestrator) LastOutcome(conversationID string) State {
	sl := o.slotFor(conversationID, false)
	if sl == nil {
		return StateIdle
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current == nil {
		return StateIdle
	}
	return sl.current.state
}

// ActiveRuns returns how many run goroutines have not yet returned.
func (o *Orchestrator) ActiveRuns() int {
	return int(o.active.Load())
}

// Wait blocks until every started run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels every run and waits for them to return. Runs cancelled this
// way publish nothing further.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	slots := make([]*slot, 0, len(o.slots))
	for _, sl := range o.slots {
		slots = append(slots, sl)
	}
	o.mu.Unlock()

	for _, sl := range slots {
		sl.mu.Lock()
		if r := sl.current; r != nil && r.state == StateRunning {
			r.token.Cancel()
			r.state = StateCancelled
		}
		sl.mu.Unlock()
	}

	o.stop()
	o.wg.Wait()
	o.logger.Debug("orchestrator closed")
}
