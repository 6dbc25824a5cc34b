// ABOUTME: Tests for gateway construction, lifecycle and health endpoints
// ABOUTME: Uses in-memory storage and scripted generators

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/suggest-gateway/internal/config"
	"github.com/2389/suggest-gateway/internal/generation"
	"github.com/2389/suggest-gateway/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.RateLimit = config.RateLimitConfig{}
	return cfg
}

// newTestGateway builds a gateway with the supervisor running and an
// httptest server in front of its handler.
func newTestGateway(t *testing.T, cfg *config.Config, gen generation.Generator) (*Gateway, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if gen == nil {
		gen = &generation.Fake{Fragments: []string{"Bonjour", " ", "client"}}
	}

	gw, err := New(cfg, nil, WithGenerator(gen))
	require.NoError(t, err)
	gw.keepAlive = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go gw.supervisor.Run(ctx)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		cancel()
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return gw, srv
}

func TestNew_DefaultsToMemoryStore(t *testing.T) {
	cfg := testConfig()
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	_, ok := gw.store.(*store.MemoryStore)
	assert.True(t, ok)
	_, ok = gw.generator.(generation.Echo)
	assert.True(t, ok)
	assert.NotNil(t, gw.metrics)
}

func TestNew_SQLiteStoreAndSeed(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "suggest.db")
	cfg.Store.SeedDemo = true

	gw, err := New(cfg, nil)
	require.NoError(t, err)

	_, ok := gw.store.(*store.SQLiteStore)
	require.True(t, ok)

	chats, err := gw.conversation.List(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "General inquiry", chats[0].Context)
	require.NoError(t, gw.Shutdown(context.Background()))

	// Reopening an existing database does not seed twice
	gw, err = New(cfg, nil)
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())
	chats, err = gw.conversation.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestNew_OpenAIProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Provider = config.ProviderOpenAI
	cfg.Generation.APIKey = "key"

	gw, err := New(cfg, nil)
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	_, ok := gw.generator.(*generation.Client)
	assert.True(t, ok)
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Provider = "nope"
	_, err := New(cfg, nil, WithStore(store.NewMemoryStore()))
	assert.Error(t, err)
}

func TestNew_UnknownProviderOpensNoDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Provider = "nope"
	cfg.Database.Path = filepath.Join(t.TempDir(), "suggest.db")

	_, err := New(cfg, nil)
	require.Error(t, err)
	_, statErr := os.Stat(cfg.Database.Path)
	assert.True(t, os.IsNotExist(statErr), "database file should not be created")
}

// brokenStore fails every listing and records whether it was closed.
type brokenStore struct {
	*store.MemoryStore
	closed bool
}

func (b *brokenStore) ListConversations(context.Context) ([]*store.Conversation, error) {
	return nil, errors.New("storage unavailable")
}

func (b *brokenStore) Close() error {
	b.closed = true
	return nil
}

func TestNew_SeedFailureLeavesCallerStoreOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SeedDemo = true
	st := &brokenStore{MemoryStore: store.NewMemoryStore()}

	_, err := New(cfg, nil, WithStore(st))
	require.ErrorContains(t, err, "seeding store")
	assert.False(t, st.closed)
}

func TestHealth(t *testing.T) {
	gw, srv := newTestGateway(t, nil, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, gw.Shutdown(context.Background()))
	rec := httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, nil, nil)

	chat := createChat(t, srv)
	postMessage(t, srv, chat.ID, "agent", "Bonjour")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `conversation_messages_appended_total{role="agent"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	_, srv := newTestGateway(t, cfg, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_GracefulShutdown(t *testing.T) {
	gw, err := New(testConfig(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
