// Package config loads the stackmig configuration file.
// It holds the two stack endpoints, the migration tuning knobs and the
// client retry policy, and locates the local run history database.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile  = "stackmig.toml"
	StateDir    = ".stackmig"
	HistoryFile = "history.db"
)

// Environment variables that override tokens from the file.
const (
	EnvSourceToken      = "STACKMIG_SOURCE_TOKEN"
	EnvDestinationToken = "STACKMIG_DESTINATION_TOKEN"
)

// Duration is a time.Duration written as a Go duration string ("30s", "5m").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Endpoint is the admin API of one stack.
type Endpoint struct {
	URL   string `toml:"url"`
	Token string `toml:"token,omitempty"`
}

// Migration tunes a migration run.
type Migration struct {
	BatchSize         int64    `toml:"batch_size"`
	MaxWait           Duration `toml:"max_wait"`
	RetryCount        int      `toml:"retry_count"`
	ChecksumRangeSize int64    `toml:"checksum_range_size"`
	RemoteChecksum    bool     `toml:"remote_checksum"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// Retry configures retries of transient admin API errors.
type Retry struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// Config represents the stackmig configuration
type Config struct {
	Source      Endpoint  `toml:"source"`
	Destination Endpoint  `toml:"destination"`
	Migration   Migration `toml:"migration"`
	Retry       Retry     `toml:"retry"`
	HistoryPath string    `toml:"history_path,omitempty"`
	path        string    // path of the loaded file
}

// Default returns a configuration with every tuning knob set and no endpoints.
func Default() *Config {
	return &Config{
		Migration: Migration{
			BatchSize:  500,
			MaxWait:    Duration(30 * time.Minute),
			RetryCount: 3,
		},
		Retry: Retry{
			MaxRetries:     3,
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(30 * time.Second),
		},
	}
}

// Find finds stackmig.toml by walking up from the current directory
func Find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, ConfigFile)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in this directory or any parent", ConfigFile)
		}
		dir = parent
	}
}

// Load reads the configuration at path, or the nearest stackmig.toml when path is empty.
// Values missing from the file keep their defaults; token environment variables win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := Find()
		if err != nil {
			return nil, err
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = path
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSourceToken); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv(EnvDestinationToken); v != "" {
		c.Destination.Token = v
	}
}

// Validate checks that the configuration can drive a migration.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if c.Destination.URL == "" {
		errs = append(errs, errors.New("destination.url is required"))
	}
	if c.Source.URL != "" && c.Source.URL == c.Destination.URL {
		errs = append(errs, errors.New("source and destination must be different stacks"))
	}
	if c.Migration.BatchSize <= 0 {
		errs = append(errs, errors.New("migration.batch_size must be positive"))
	}
	if c.Migration.RetryCount < 0 {
		errs = append(errs, errors.New("migration.retry_count must not be negative"))
	}
	if c.Migration.MaxWait < 0 {
		errs = append(errs, errors.New("migration.max_wait must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the file it was loaded from
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(c.path, data, 0600)
}

// Path returns the path of the configuration file
func (c *Config) Path() string {
	return c.path
}

// HistoryDatabasePath returns the path of the bbolt run history.
// A relative history_path is resolved against the config file's directory.
func (c *Config) HistoryDatabasePath() string {
	base := filepath.Dir(c.path)
	if c.HistoryPath == "" {
		return filepath.Join(base, StateDir, HistoryFile)
	}
	if filepath.IsAbs(c.HistoryPath) {
		return c.HistoryPath
	}
	return filepath.Join(base, c.HistoryPath)
}

// RetryConfig returns the client retry policy.
func (c *Config) RetryConfig() *remote.RetryConfig {
	rc := remote.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.MaxRetries
	if c.Retry.InitialBackoff > 0 {
		rc.InitialBackoff = time.Duration(c.Retry.InitialBackoff)
	}
	if c.Retry.MaxBackoff > 0 {
		rc.MaxBackoff = time.Duration(c.Retry.MaxBackoff)
	}
	return rc
}

// Initialize writes a new stackmig.toml with default settings into dir
func Initialize(dir, sourceURL, destinationURL string) (*Config, error) {
	path := filepath.Join(dir, ConfigFile)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s already exists", path)
	}

	cfg := Default()
	cfg.Source.URL = sourceURL
	cfg.Destination.URL = destinationURL
	cfg.path = path

	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}
