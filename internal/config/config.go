// ABOUTME: Configuration loading and parsing for suggest-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, env overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete suggest-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Suggest    SuggestConfig    `yaml:"suggest" toml:"suggest"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string          `yaml:"http_addr" toml:"http_addr" env:"SUGGEST_HTTP_ADDR"`
	AllowedOrigins []string        `yaml:"allowed_origins" toml:"allowed_origins" env:"SUGGEST_ALLOWED_ORIGINS" envSeparator:","`
	RateLimit      RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig bounds message appends per client IP. RPS of zero disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps" env:"SUGGEST_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" toml:"burst" env:"SUGGEST_RATE_LIMIT_BURST"`
}

// DatabaseConfig selects the storage backend. An empty path keeps
// conversations in memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"SUGGEST_DB_DRIVER"`
	Path   string `yaml:"path" toml:"path" env:"SUGGEST_DB_PATH"`
}

// StoreConfig holds store bootstrap options
type StoreConfig struct {
	SeedDemo bool `yaml:"seed_demo" toml:"seed_demo" env:"SUGGEST_SEED_DEMO"`
}

// GenerationConfig configures the suggestion backend
type GenerationConfig struct {
	Provider    string  `yaml:"provider" toml:"provider" env:"SUGGEST_PROVIDER"`
	BaseURL     string  `yaml:"base_url" toml:"base_url" env:"OVH_BASE_URL"`
	Path        string  `yaml:"path" toml:"path" env:"SUGGEST_GENERATION_PATH"`
	APIKey      string  `yaml:"api_key" toml:"api_key" env:"OVH_API_KEY"`
	Model       string  `yaml:"model" toml:"model" env:"SUGGEST_MODEL"`
	Temperature float64 `yaml:"temperature" toml:"temperature" env:"SUGGEST_TEMPERATURE"`
	MaxTokens   int64   `yaml:"max_tokens" toml:"max_tokens" env:"SUGGEST_MAX_TOKENS"`

	SystemPrompt  string `yaml:"system_prompt" toml:"system_prompt"`
	ContextPrompt string `yaml:"context_prompt" toml:"context_prompt"`
	FormatPrompt  string `yaml:"format_prompt" toml:"format_prompt"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout" env:"SUGGEST_GENERATION_TIMEOUT"`
}

// SuggestConfig holds suggestion run configuration
type SuggestConfig struct {
	RunTimeout    time.Duration `yaml:"-" toml:"-"`
	RunTimeoutRaw string        `yaml:"run_timeout" toml:"run_timeout" env:"SUGGEST_RUN_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"SUGGEST_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"SUGGEST_LOG_FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"SUGGEST_METRICS_ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"SUGGEST_METRICS_PATH"`
}

// Provider names accepted by generation.provider.
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// DefaultOVHBaseURL is the Mistral 7B endpoint on OVH AI Endpoints.
const DefaultOVHBaseURL = "https://mistral-7b-instruct-v0-3.endpoints.kepler.ai.cloud.ovh.net"

// Default returns a configuration that runs locally without any file:
// in-memory storage and the echo generator.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:       "localhost:8000",
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit:      RateLimitConfig{RPS: 5, Burst: 10},
		},
		Database: DatabaseConfig{Driver: "sqlite"},
		Generation: GenerationConfig{
			Provider:    ProviderEcho,
			BaseURL:     DefaultOVHBaseURL,
			Temperature: 0.7,
			MaxTokens:   500,
			TimeoutRaw:  "60s",
		},
		Suggest: SuggestConfig{RunTimeoutRaw: "90s"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Values
// start from Default, are overridden by the file, then by environment
// variables. Environment variables in the format ${VAR_NAME} are expanded
// in the file. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if err := decode(path, expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path, content string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(content, cfg)
		return err
	default:
		return yaml.Unmarshal([]byte(content), cfg)
	}
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Server.RateLimit.RPS < 0 {
		return fmt.Errorf("server.rate_limit.rps must not be negative")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst < 1 {
		return fmt.Errorf("server.rate_limit.burst must be at least 1 when rps is set")
	}

	if c.Database.Path != "" {
		switch c.Database.Driver {
		case "sqlite", "sqlite3":
		default:
			return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
		}
	}

	switch c.Generation.Provider {
	case ProviderOpenAI:
		if c.Generation.BaseURL == "" {
			return fmt.Errorf("generation.base_url is required for the openai provider")
		}
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for the openai provider (set OVH_API_KEY)")
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("generation.provider must be openai or echo, got %q", c.Generation.Provider)
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2")
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Suggest.RunTimeoutRaw != "" {
		cfg.Suggest.RunTimeout, err = time.ParseDuration(cfg.Suggest.RunTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing suggest.run_timeout %q: %w", cfg.Suggest.RunTimeoutRaw, err)
		}
	}

	return nil
}
