// Package cli implements the command-line interface for stackmig.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kilupskalvis/stackmig/internal/config"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/kilupskalvis/stackmig/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config      *config.Config
	Source      remote.AdminClient
	Destination remote.AdminClient
	Store       *store.Store
	Logger      *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

var (
	configPath string
	logLevel   string
	logFormat  string
)

// initContext loads and validates the config and builds both admin clients.
func initContext() *cmdContext {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitError("invalid config %s: %v", cfg.Path(), err)
	}

	return &cmdContext{
		Config:      cfg,
		Source:      newAdminClient(cfg, cfg.Source),
		Destination: newAdminClient(cfg, cfg.Destination),
		Logger:      newLogger(os.Stderr),
	}
}

// initContextWithStore also opens the run history.
func initContextWithStore() *cmdContext {
	c := initContext()

	st, err := store.Open(c.Config.HistoryDatabasePath())
	if err != nil {
		exitError("failed to open history: %v", err)
	}
	c.Store = st

	return c
}

// initHistoryContext opens the run history without requiring usable endpoints.
func initHistoryContext() *cmdContext {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.Open(cfg.HistoryDatabasePath())
	if err != nil {
		exitError("failed to open history: %v", err)
	}

	return &cmdContext{Config: cfg, Store: st, Logger: newLogger(os.Stderr)}
}

func newAdminClient(cfg *config.Config, ep config.Endpoint) remote.AdminClient {
	httpClient := remote.NewHTTPClient(ep.URL, ep.Token, cfg.Migration.RequestsPerSecond)
	return remote.NewRetryClient(httpClient, cfg.RetryConfig())
}

func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var rootCmd = &cobra.Command{
	Use:   "stackmig",
	Short: "Stack-to-stack data migration",
	Long: `stackmig copies the migratable data of one stack to another through the
stacks' admin APIs. It computes a per-type delta from row ids and etags,
applies deletes, creates and updates in batches through backup/restore jobs,
verifies the result with range checksums and replays change messages.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to stackmig.toml (default: nearest in the directory tree)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (json, text)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checksumCmd)
	rootCmd.AddCommand(historyCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	os.Exit(reportError(format, args...))
}

// reportError prints an error and returns the exit code for it.
func reportError(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return 1
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
