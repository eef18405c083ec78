// Package config resolves passvault's runtime settings.
//
// Sources are applied in order, later ones taking precedence:
// defaults, a JSON file (-config or PASSVAULT_CONFIG), environment
// variables, then command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

// Environment variables
const (
	EnvConfig      = "PASSVAULT_CONFIG"
	EnvVaultPath   = "PASSVAULT_PATH"
	EnvBackend     = "PASSVAULT_BACKEND"
	EnvIdleTimeout = "PASSVAULT_IDLE_TIMEOUT"
	EnvLogLevel    = "PASSVAULT_LOG_LEVEL"
)

// Config holds runtime settings for the passvault CLI.
//
// IdleTimeout is the auto-lock window; a negative value disables it.
type Config struct {
	VaultPath        string
	Backend          string
	IdleTimeout      time.Duration
	LogLevel         string
	Iterations       int
	MinStrengthScore int
}

// DefaultVaultPath returns ~/.passvault/vault.db
func DefaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".passvault", "vault.db")
	}
	return filepath.Join(home, ".passvault", "vault.db")
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.VaultPath = DefaultVaultPath()
	c.Backend = storage.BackendBolt
	c.IdleTimeout = 15 * time.Minute
	c.LogLevel = "warn"
	c.Iterations = crypto.DefaultIterations
	c.MinStrengthScore = 3
}

// Validate checks that every field holds a usable value
func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return fmt.Errorf("vault path is required")
	}
	switch c.Backend {
	case storage.BackendBolt, storage.BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, storage.BackendBolt, storage.BackendSQLite)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Iterations < crypto.MinIterations || c.Iterations > crypto.MaxIterations {
		return fmt.Errorf("iterations must be between %d and %d", crypto.MinIterations, crypto.MaxIterations)
	}
	// core.New reads 0 as "use the default", so it cannot be configured
	if c.MinStrengthScore < 1 || c.MinStrengthScore > 10 {
		return fmt.Errorf("min strength score must be between 1 and 10")
	}
	return nil
}

// Load resolves the configuration from every source. args are the
// command-line arguments without the program name; the unparsed remainder
// (the subcommand and its arguments) is returned.
func Load(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fs := flag.NewFlagSet("passvault", flag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	path := flags.config
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := parseJSON(cfg, path); err != nil {
			return nil, nil, err
		}
	}
	if err := parseEnv(cfg, os.LookupEnv); err != nil {
		return nil, nil, err
	}
	flags.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// parseEnv overlays values from environment variables
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvVaultPath); ok && v != "" {
		cfg.VaultPath = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		cfg.Backend = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvIdleTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvIdleTimeout, err)
		}
		cfg.IdleTimeout = d
	}
	return nil
}
