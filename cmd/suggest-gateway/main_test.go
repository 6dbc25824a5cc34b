package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/suggest-gateway/internal/config"
)

// pointAt writes a config file whose http_addr is srv's address.
func pointAt(t *testing.T, srv *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	addr := strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_addr: "+addr+"\n"), 0o600))

	oldConfig, oldEnv := configPath, envFile
	configPath, envFile = path, filepath.Join(dir, "missing.env")
	t.Cleanup(func() { configPath, envFile = oldConfig, oldEnv })
}

func TestRunHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		_, _ = w.Write([]byte("ready (0 active runs)"))
	}))
	defer srv.Close()
	pointAt(t, srv)

	var out bytes.Buffer
	require.NoError(t, runHealth(t.Context(), &out))
	assert.Equal(t, "healthy: ready (0 active runs)\n", out.String())
}

func TestRunHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	}))
	defer srv.Close()
	pointAt(t, srv)

	err := runHealth(t.Context(), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRunChats(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","messages":[{"id":"m1","role":"customer","message":"Hello!"}],"context":"General inquiry"},{"id":"c2","messages":[],"context":""}]`))
	}))
	defer srv.Close()
	pointAt(t, srv)

	var out bytes.Buffer
	require.NoError(t, runChats(t.Context(), &out))
	assert.Equal(t, "c1  1 messages  [General inquiry]\nc2  0 messages\n", out.String())
}

func TestPrintChats_Empty(t *testing.T) {
	var out bytes.Buffer
	printChats(&out, nil)
	assert.Equal(t, "no conversations\n", out.String())
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "health", "chats"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug"}, &out)

	logger.With("component", "suggest").Debug("run started", "run_id", "r1")
	assert.Equal(t, "DBG run started component=suggest run_id=r1\n", out.String()[9:])

	out.Reset()
	logger.With("component", "suggest").WithGroup("run").Info("finished", "state", "completed")
	assert.Equal(t, "INF finished component=suggest run.state=completed\n", out.String()[9:])

	out.Reset()
	quiet := newLogger(config.LoggingConfig{Level: "warn"}, &out)
	quiet.Info("dropped")
	assert.Empty(t, out.String())
	assert.True(t, quiet.Enabled(context.Background(), slog.LevelError))
}

func TestNewLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &out)
	logger.Info("hello", "k", "v")
	assert.Contains(t, out.String(), `"msg":"hello"`)
	assert.Contains(t, out.String(), `"k":"v"`)
}
