package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/passvault/internal/storage"
)

func writeTempJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvConfig, EnvVaultPath, EnvBackend, EnvIdleTimeout, EnvLogLevel} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, storage.BackendBolt, c.Backend)
	assert.Equal(t, 15*time.Minute, c.IdleTimeout)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, 3, c.MinStrengthScore)
	assert.Equal(t, "vault.db", filepath.Base(c.VaultPath))
	require.NoError(t, c.Validate())
}

func TestLoadReturnsRemainingArgs(t *testing.T) {
	clearEnv(t)

	cfg, rest, err := Load([]string{"-vault", "/tmp/x.db", "add", "-domain", "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.VaultPath)
	assert.Equal(t, []string{"add", "-domain", "example.com"}, rest)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeTempJSON(t, `{
		"vault_path": "/from/json.db",
		"backend": "sqlite",
		"idle_timeout": "5m",
		"log_level": "debug",
		"iterations": 300000,
		"min_strength_score": 4
	}`)

	cfg, _, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "/from/json.db", cfg.VaultPath)
	assert.Equal(t, storage.BackendSQLite, cfg.Backend)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 300000, cfg.Iterations)
	assert.Equal(t, 4, cfg.MinStrengthScore)

	t.Setenv(EnvVaultPath, "/from/env.db")
	t.Setenv(EnvIdleTimeout, "1m")
	cfg, _, err = Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.VaultPath)
	assert.Equal(t, time.Minute, cfg.IdleTimeout)

	cfg, _, err = Load([]string{"-config", path, "-vault", "/from/flag.db", "-idle-timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.db", cfg.VaultPath)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, storage.BackendSQLite, cfg.Backend)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfig, writeTempJSON(t, `{"backend": "sqlite"}`))

	cfg, _, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendSQLite, cfg.Backend)
}

func TestDurationFromNanoseconds(t *testing.T) {
	clearEnv(t)
	path := writeTempJSON(t, `{"idle_timeout": 2000000000}`)

	cfg, _, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.IdleTimeout)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown backend", args: []string{"-backend", "redis"}},
		{name: "bad log level", args: []string{"-log-level", "chatty"}},
		{name: "bad env duration", env: map[string]string{EnvIdleTimeout: "soon"}},
		{name: "missing config file", args: []string{"-config", filepath.Join(t.TempDir(), "missing.json")}},
		{name: "malformed config", args: []string{"-config", writeTempJSON(t, `{"idle_timeout": true}`)}},
		{name: "weak iterations", args: []string{"-config", writeTempJSON(t, `{"iterations": 1000}`)}},
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "zero strength score", args: []string{"-config", writeTempJSON(t, `{"min_strength_score": 0}`)}},
		{name: "excessive iterations", args: []string{"-config", writeTempJSON(t, `{"iterations": 2147483647}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}
