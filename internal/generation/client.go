// ABOUTME: Streaming client for OpenAI-compatible chat-completion backends
// ABOUTME: Reads the SSE response line by line, skipping chunks it cannot parse

package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/2389/suggest-gateway/internal/store"
)

const (
	// DefaultPath is the OpenAI-compatible endpoint exposed by OVH AI Endpoints.
	DefaultPath        = "/api/openai_compat/v1/chat/completions"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
	DefaultTimeout     = 60 * time.Second

	maxLineSize = 1 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	Path        string // DefaultPath when empty
	APIKey      string
	Model       string // omitted from the request when empty
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Prompts     PromptConfig

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client streams suggestions from an OpenAI-compatible backend.
type Client struct {
	cfg      ClientConfig
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a Client. Pass nil logger for default.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generation base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		http:     httpClient,
		logger:   logger.With("component", "generation"),
	}, nil
}

// requestBody renders the streaming chat-completion request for conv.
func (c *Client) requestBody(conv *store.Conversation) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    BuildMessages(conv, c.cfg.Prompts),
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(c.cfg.MaxTokens),
	}
	if c.cfg.Model != "" {
		params.Model = openai.ChatModel(c.cfg.Model)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("setting stream flag: %w", err)
	}
	return body, nil
}

// StreamSuggestion issues the request and yields content deltas as they arrive.
func (c *Client) StreamSuggestion(ctx context.Context, conv *store.Conversation) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := c.requestBody(conv)
		if err != nil {
			yield("", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		c.logger.Debug("requesting suggestion",
			"conversation_id", conv.ID,
			"messages", len(conv.Messages))

		resp, err := c.http.Do(req)
		if err != nil {
			yield("", &TransportError{Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield("", &TransportError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet)),
			})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		skipped := 0
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}

			fragment, ok := parseChunk(data)
			if !ok {
				skipped++
				continue
			}
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				return
			}
		}
		if skipped > 0 {
			c.logger.Debug("skipped malformed chunks", "conversation_id", conv.ID, "count", skipped)
		}
		if err := scanner.Err(); err != nil {
			yield("", &TransportError{Err: fmt.Errorf("reading stream: %w", err)})
		}
	}
}

// parseChunk extracts choices[0].delta.content from one SSE payload.
// ok is false for invalid JSON or a chunk without string content.
func parseChunk(data string) (string, bool) {
	if !gjson.Valid(data) {
		return "", false
	}
	content := gjson.Get(data, "choices.0.delta.content")
	if content.Type != gjson.String {
		return "", false
	}
	return content.Str, true
}

var _ Generator = (*Client)(nil)
