// ABOUTME: Prometheus instrumentation for the bus, the conversation service and suggestion runs
// ABOUTME: Uses a private registry so several instances can coexist in tests

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/pubsub"
	"github.com/2389/suggest-gateway/internal/store"
	"github.com/2389/suggest-gateway/internal/suggest"
)

// Metrics implements the instrumentation hooks of pubsub, conversation and suggest.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	fragments    prometheus.Counter
	activeRuns   prometheus.Gauge
	published    *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	subscribers  *prometheus.GaugeVec
	appended     *prometheus.CounterVec
}

// New creates and registers every collector. Runtime and process collectors
// are included when withRuntime is true.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suggest_runs_started_total",
			Help: "Suggestion runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "suggest_runs_finished_total",
			Help: "Suggestion runs finished, by final state.",
		}, []string{"state"}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suggest_fragments_forwarded_total",
			Help: "Generated fragments forwarded to the suggestions channel.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "suggest_active_runs",
			Help: "Suggestion runs currently executing.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_published_total",
			Help: "Events published on the bus, by channel.",
		}, []string{"channel"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_deliveries_total",
			Help: "Events enqueued to subscribers, by channel.",
		}, []string{"channel"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pubsub_subscribers",
			Help: "Live subscriptions, by channel.",
		}, []string{"channel"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conversation_messages_appended_total",
			Help: "Messages appended to conversations, by role.",
		}, []string{"role"}),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.fragments,
		m.activeRuns,
		m.published,
		m.deliveries,
		m.subscribers,
		m.appended,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Published implements pubsub.Observer.
func (m *Metrics) Published(channel pubsub.Channel, delivered int) {
	m.published.WithLabelValues(string(channel)).Inc()
	m.deliveries.WithLabelValues(string(channel)).Add(float64(delivered))
}

// SubscribersChanged implements pubsub.Observer.
func (m *Metrics) SubscribersChanged(channel pubsub.Channel, delta int) {
	m.subscribers.WithLabelValues(string(channel)).Add(float64(delta))
}

// MessageAppended implements conversation.Recorder.
func (m *Metrics) MessageAppended(role store.Role) {
	m.appended.WithLabelValues(string(role)).Inc()
}

// RunStarted implements suggest.Recorder.
func (m *Metrics) RunStarted() {
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished implements suggest.Recorder.
func (m *Metrics) RunFinished(state suggest.State) {
	m.runsFinished.WithLabelValues(string(state)).Inc()
	m.activeRuns.Dec()
}

// FragmentForwarded implements suggest.Recorder.
func (m *Metrics) FragmentForwarded() {
	m.fragments.Inc()
}

var (
	_ pubsub.Observer       = (*Metrics)(nil)
	_ conversation.Recorder = (*Metrics)(nil)
	_ suggest.Recorder      = (*Metrics)(nil)
)
