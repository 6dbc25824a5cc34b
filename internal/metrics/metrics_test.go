package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/generation"
	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
	"github.com/2389/suggest-gateway/internal/suggest"
)

func TestMetrics_Hooks(t *testing.T) {
	m := New(false)

	m.SubscribersChanged(pubsub.ChannelMessages, 1)
	m.SubscribersChanged(pubsub.ChannelMessages, 1)
	m.SubscribersChanged(pubsub.ChannelMessages, -1)
	m.Published(pubsub.ChannelSuggestions, 3)
	m.MessageAppended(store.RoleCustomer)
	m.RunStarted()
	m.FragmentForwarded()
	m.RunFinished(suggest.StateCompleted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers.WithLabelValues("messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("suggestions")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveries.WithLabelValues("suggestions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appended.WithLabelValues("customer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fragments))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("completed")))
}

func TestMetrics_WiredPipeline(t *testing.T) {
	m := New(false)

	bus := conversation.NewBus(nil)
	bus.SetObserver(m)
	defer bus.Close()

	svc := conversation.New(store.NewMemoryStore(), bus, nil)
	svc.SetRecorder(m)
	defer svc.Close()

	orch := suggest.NewOrchestrator(svc, &generation.Fake{Fragments: []string{"a", "b"}}, bus, nil, suggest.Options{Recorder: m})
	defer orch.Close()

	ctx := t.Context()
	conv, err := svc.Create(ctx)
	require.NoError(t, err)
	sub := bus.Subscribe(ctx, conv.ID, pubsub.ChannelSuggestions)

	_, err = svc.AppendMessage(ctx, conv.ID, store.RoleCustomer, "hello")
	require.NoError(t, err)
	orch.StartRun(conv.ID)
	orch.Wait()

	for range 3 {
		select {
		case <-sub.C():
		case <-time.After(2 * time.Second):
			t.Fatal("missing suggestion event")
		}
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fragments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("messages")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.published.WithLabelValues("suggestions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers.WithLabelValues("suggestions")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(true)
	m.RunStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "suggest_runs_started_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
