// ABOUTME: Entry point for the suggest-gateway server and its client commands
// ABOUTME: Serves the chat API and queries a running gateway for health and conversations

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/suggest-gateway/internal/config"
	"github.com/2389/suggest-gateway/internal/gateway"
	"github.com/2389/suggest-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                   _
  ___ _   _  __ _  __ _  ___  ___| |_
 / __| | | |/ _' |/ _' |/ _ \/ __| __|
 \__ \ |_| | (_| | (_| |  __/\__ \ |_
 |___/\__,_|\__, |\__, |\___||___/\__|
            |___/ |___/
`

var (
	configPath string
	envFile    string
)

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > SUGGEST_CONFIG env var > XDG_CONFIG_HOME/suggest/gateway.yaml
// > ~/.config/suggest/gateway.yaml. An empty result means built-in defaults.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("SUGGEST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "suggest", "gateway.yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

// loadConfig loads .env first so its variables reach both ${VAR} expansion
// and the environment overrides.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, "", err
	}
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "suggest-gateway",
		Short:         "Live reply suggestions for customer support agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the config")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the gateway server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check gateway health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHealth(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "chats",
			Short: "List conversations on a running gateway",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runChats(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	source := path
	if source == "" {
		source = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Generator: %s", cfg.Generation.Provider)
	if cfg.Generation.Provider == config.ProviderEcho {
		yellow.Print(" [dev]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	if cfg.Database.Path == "" {
		fmt.Printf("Storage:   memory\n")
	} else {
		fmt.Printf("Storage:   %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	}
	fmt.Println()

	logger.Info("starting suggest-gateway",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Generation.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// gatewayGet issues a GET against the configured gateway address.
func gatewayGet(ctx context.Context, path string) (*http.Response, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func runHealth(ctx context.Context, out io.Writer) error {
	resp, err := gatewayGet(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintf(out, "healthy: %s\n", body)
	return nil
}

func runChats(ctx context.Context, out io.Writer) error {
	resp, err := gatewayGet(ctx, "/api/chats")
	if err != nil {
		return fmt.Errorf("listing chats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing chats: status %d", resp.StatusCode)
	}

	var chats []store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&chats); err != nil {
		return fmt.Errorf("decoding chats: %w", err)
	}

	printChats(out, chats)
	return nil
}

func printChats(out io.Writer, chats []store.Conversation) {
	if len(chats) == 0 {
		fmt.Fprintln(out, "no conversations")
		return
	}
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, c := range chats {
		bold.Fprint(out, c.ID)
		fmt.Fprintf(out, "  %d messages", len(c.Messages))
		if c.Context != "" {
			gray.Fprintf(out, "  [%s]", c.Context)
		}
		fmt.Fprintln(out)
	}
}
