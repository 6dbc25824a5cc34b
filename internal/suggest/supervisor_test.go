package suggest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/generation"
	"github.com/2389/suggest-gateway/internal/store"
)

func startSupervisor(t *testing.T, h *harness) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	sup := NewSupervisor(h.svc.Appended(), h.orch, nil)
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSupervisor_CustomerMessageStartsRun(t *testing.T) {
	fake := &generation.Fake{Fragments: []string{"Bonjour", " ", "client"}}
	h := newHarness(t, fake, Options{})
	startSupervisor(t, h)

	conv, err := h.svc.Create(t.Context())
	require.NoError(t, err)
	sub := h.suggestions(t, conv.ID)

	_, err = h.svc.AppendMessage(t.Context(), conv.ID, store.RoleCustomer, "Ma facture est fausse")
	require.NoError(t, err)

	var text string
	for {
		ev := next(t, sub.C())
		if ev.IsTerminal() {
			assert.Equal(t, conversation.KindDone, ev.Kind)
			break
		}
		text += ev.Text
	}
	assert.Equal(t, "Bonjour client", text)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 1)
	assert.Equal(t, "Ma facture est fausse", calls[0].Messages[0].Text)
}

func TestSupervisor_AgentMessageDoesNotStartRun(t *testing.T) {
	fake := &generation.Fake{Fragments: []string{"x"}}
	h := newHarness(t, fake, Options{})
	startSupervisor(t, h)

	conv, err := h.svc.Create(t.Context())
	require.NoError(t, err)
	sub := h.suggestions(t, conv.ID)

	_, err = h.svc.AppendMessage(t.Context(), conv.ID, store.RoleAgent, "Bonjour, je suis Paul")
	require.NoError(t, err)

	assert.Empty(t, drain(t, sub.C()))
	assert.Empty(t, fake.Calls())
	assert.Equal(t, StateIdle, h.orch.State(conv.ID))
}

func TestSupervisor_AppendReturnsBeforeGeneration(t *testing.T) {
	step := make(chan struct{})
	fake := &generation.Fake{Fragments: []string{"lent"}, Step: step}
	h := newHarness(t, fake, Options{})
	startSupervisor(t, h)

	conv, err := h.svc.Create(t.Context())
	require.NoError(t, err)
	sub := h.suggestions(t, conv.ID)

	start := time.Now()
	_, err = h.svc.AppendMessage(t.Context(), conv.ID, store.RoleCustomer, "Allô")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Eventually(t, func() bool { return h.orch.State(conv.ID) == StateRunning }, time.Second, 5*time.Millisecond)
	close(step)

	ev := next(t, sub.C())
	assert.Equal(t, "lent", ev.Text)
	assert.True(t, next(t, sub.C()).IsTerminal())
}

func TestSupervisor_StopsWhenSignalsClose(t *testing.T) {
	h := newHarness(t, &generation.Fake{}, Options{})
	sup := NewSupervisor(h.svc.Appended(), h.orch, nil)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	h.svc.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
