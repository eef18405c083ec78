// Package logging builds the zap logger shared by the CLI and the vault
// engine. Output goes to stderr so it never mixes with command output.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger at the given level ("debug", "info", "warn",
// "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Must is New that falls back to a no-op logger on error.
func Must(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		return zap.NewNop()
	}
	return l
}
