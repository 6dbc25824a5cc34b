// ABOUTME: Gateway wires storage, the event bus, suggestion runs and the HTTP server together
// ABOUTME: Manages the server lifecycle including graceful shutdown of live streams

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/suggest-gateway/internal/config"
	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/dedupe"
	"github.com/2389/suggest-gateway/internal/generation"
	"github.com/2389/suggest-gateway/internal/metrics"
	"github.com/2389/suggest-gateway/internal/store"
	"github.com/2389/suggest-gateway/internal/suggest"
)

const (
	defaultKeepAlive = 15 * time.Second
	idempotencyTTL   = 10 * time.Minute
	idempotencySize  = 10000
)

// Gateway serves the chat API and streams conversation events to agent UIs.
type Gateway struct {
	config       *config.Config
	store        store.Store
	bus          *conversation.Bus
	conversation *conversation.Service
	generator    generation.Generator
	orchestrator *suggest.Orchestrator
	supervisor   *suggest.Supervisor
	metrics      *metrics.Metrics
	idempotency  *dedupe.Cache[*store.Message]
	limiter      *limiterPool
	upgrader     websocket.Upgrader
	httpServer   *http.Server
	logger       *slog.Logger

	// keepAlive is the interval between SSE comment frames and WebSocket pings
	keepAlive time.Duration

	closing atomic.Bool
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithStore uses st instead of the store described by the config.
func WithStore(st store.Store) Option {
	return func(g *Gateway) { g.store = st }
}

// WithGenerator uses gen instead of the generator described by the config.
func WithGenerator(gen generation.Generator) Option {
	return func(g *Gateway) { g.generator = gen }
}

// initStore creates the store described by cfg: SQLite when a path is set,
// memory otherwise.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildGenerator creates the suggestion backend described by cfg.
func buildGenerator(cfg config.GenerationConfig, logger *slog.Logger) (generation.Generator, error) {
	switch cfg.Provider {
	case config.ProviderEcho:
		return generation.Echo{Delay: 50 * time.Millisecond}, nil
	case config.ProviderOpenAI:
		client, err := generation.NewClient(generation.ClientConfig{
			BaseURL:     cfg.BaseURL,
			Path:        cfg.Path,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Prompts: generation.PromptConfig{
				System:      cfg.SystemPrompt,
				WithContext: cfg.ContextPrompt,
				Format:      cfg.FormatPrompt,
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating generation client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// seedIfEmpty adds the demo conversation to an empty store.
func seedIfEmpty(ctx context.Context, st store.Store, logger *slog.Logger) error {
	existing, err := st.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	conv, err := store.Seed(ctx, st)
	if err != nil {
		return err
	}
	logger.Info("seeded demo conversation", "conversation_id", conv.ID)
	return nil
}

// New creates a gateway from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		keepAlive: defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(gw)
	}

	if gw.generator == nil {
		gen, err := buildGenerator(cfg.Generation, logger)
		if err != nil {
			return nil, err
		}
		gw.generator = gen
	}

	ownStore := gw.store == nil
	if ownStore {
		st, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		gw.store = st
	}

	if cfg.Store.SeedDemo {
		if err := seedIfEmpty(context.Background(), gw.store, gw.logger); err != nil {
			if ownStore {
				_ = gw.store.Close()
			}
			return nil, fmt.Errorf("seeding store: %w", err)
		}
	}

	gw.bus = conversation.NewBus(logger)
	gw.conversation = conversation.New(gw.store, gw.bus, logger)

	runOpts := suggest.Options{RunTimeout: cfg.Suggest.RunTimeout}
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New(true)
		gw.bus.SetObserver(gw.metrics)
		gw.conversation.SetRecorder(gw.metrics)
		runOpts.Recorder = gw.metrics
	}

	gw.orchestrator = suggest.NewOrchestrator(gw.conversation, gw.generator, gw.bus, logger, runOpts)
	gw.supervisor = suggest.NewSupervisor(gw.conversation.Appended(), gw.orchestrator, logger)
	gw.idempotency = dedupe.New[*store.Message](idempotencyTTL, idempotencySize, 0)
	gw.limiter = newLimiterPool(cfg.Server.RateLimit)
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(cfg.Server.AllowedOrigins, origin) {
				return true
			}
			gw.logger.Warn("rejected websocket from disallowed origin", "origin", origin)
			return false
		},
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and the suggestion supervisor and blocks until
// the context is canceled. Returns nil on graceful shutdown (context
// canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	supCtx, stopSupervisor := context.WithCancel(ctx)
	defer stopSupervisor()
	go func() {
		if err := g.supervisor.Run(supCtx); err != nil {
			g.logger.Error("supervisor stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops suggestion runs, ends every live stream by closing the bus,
// then stops the HTTP server and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.closing.CompareAndSwap(false, true) {
		return nil
	}
	g.logger.Info("shutting down gateway")

	g.orchestrator.Close()
	g.conversation.Close()
	g.bus.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.idempotency.Close()
	g.limiter.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK unless the gateway is shutting down.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.closing.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active runs)", g.orchestrator.ActiveRuns())
}
