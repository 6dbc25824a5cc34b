// ABOUTME: Tests for the conversation service
// ABOUTME: Covers append publishing, signalling, ordering and not-found handling

package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	bus := NewBus(nil)
	svc := New(store.NewMemoryStore(), bus, nil)
	t.Cleanup(func() {
		svc.Close()
		bus.Close()
	})
	return svc
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[store.Role]int
}

func (r *countingRecorder) MessageAppended(role store.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[store.Role]int)
	}
	r.counts[role]++
}

func TestService_AppendMessage_PublishesAndSignals(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)

	sub := svc.Bus().Subscribe(ctx, conv.ID, pubsub.ChannelMessages)

	msg, err := svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "Ma commande est en retard")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	ev := receive(t, sub.C())
	assert.Equal(t, KindMessage, ev.Kind)
	assert.Equal(t, conv.ID, ev.ConversationID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.False(t, ev.IsTerminal())

	select {
	case sig := <-svc.Appended():
		assert.Equal(t, conv.ID, sig.ConversationID)
		assert.Equal(t, msg.ID, sig.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no append signal")
	}
}

func TestService_AppendMessage_AgentAlsoSignals(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleAgent, "Je regarde")
	require.NoError(t, err)

	select {
	case sig := <-svc.Appended():
		assert.Equal(t, store.RoleAgent, sig.Message.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("no append signal")
	}
}

func TestService_AppendMessage_UnknownConversation(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	sub := svc.Bus().Subscribe(ctx, "missing", pubsub.ChannelMessages)

	_, err := svc.AppendMessage(ctx, "missing", store.RoleCustomer, "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %+v", ev)
	case sig := <-svc.Appended():
		t.Fatalf("unexpected signal %+v", sig)
	case <-time.After(100 * time.Millisecond):
	}
}

func gateCount(s *Service) int {
	n := 0
	s.gates.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestService_AppendMessage_UnknownConversationsLeaveNoGates(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	for i := range 1000 {
		_, err := svc.AppendMessage(ctx, fmt.Sprintf("missing-%d", i), store.RoleCustomer, "hello")
		require.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Zero(t, gateCount(svc))

	conv, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, gateCount(svc))
}

func TestService_AppendMessage_ConcurrentUnknownConversation(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_, err := svc.AppendMessage(ctx, "missing", store.RoleCustomer, "hello")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
	wg.Wait()
	assert.Zero(t, gateCount(svc))
}

func TestService_AppendMessage_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, conv.ID, store.Role("bot"), "hi")
	assert.ErrorIs(t, err, store.ErrInvalidRole)

	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestService_AppendMessage_ConcurrentOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)
	sub := svc.Bus().Subscribe(ctx, conv.ID, pubsub.ChannelMessages)

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			_, err := svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, n)

	ids := make(map[string]bool, n)
	for i := range n {
		ev := receive(t, sub.C())
		assert.Equal(t, got.Messages[i].ID, ev.Message.ID, "event %d out of store order", i)
		ids[ev.Message.ID] = true
	}
	assert.Len(t, ids, n)
}

func TestService_SetContext(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetContext(ctx, conv.ID, "Livraison"))
	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Livraison", got.Context)

	assert.ErrorIs(t, svc.SetContext(ctx, "missing", "x"), store.ErrNotFound)
}

func TestService_List(t *testing.T) {
	svc := newTestService(t)
	ctx := t.Context()

	_, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.Create(ctx)
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_Recorder(t *testing.T) {
	svc := newTestService(t)
	rec := &countingRecorder{}
	svc.SetRecorder(rec)
	ctx := t.Context()

	conv, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "a")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleAgent, "b")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "c")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.counts[store.RoleCustomer])
	assert.Equal(t, 1, rec.counts[store.RoleAgent])
}

func TestService_Close_ClosesSignals(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	svc := New(store.NewMemoryStore(), bus, nil)
	svc.Close()

	select {
	case _, ok := <-svc.Appended():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("signal channel not closed")
	}
}

func TestEvent_IsTerminal(t *testing.T) {
	assert.False(t, FragmentEvent("c", "r", "x").IsTerminal())
	assert.True(t, DoneEvent("c", "r").IsTerminal())
	assert.True(t, ErrorEvent("c", "r", fmt.Errorf("boom")).IsTerminal())
	assert.Equal(t, "boom", ErrorEvent("c", "r", fmt.Errorf("boom")).Error)
}
