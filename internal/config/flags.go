package config

import (
	"flag"
	"time"
)

type globalFlags struct {
	config      string
	vault       string
	backend     string
	idleTimeout time.Duration
	logLevel    string
}

// registerFlags defines the global flags accepted before the subcommand:
//
//	-config string         JSON config file
//	-vault string          vault database path
//	-backend string        storage backend (bolt or sqlite)
//	-idle-timeout duration auto-lock window
//	-log-level string      zap level name
func registerFlags(fs *flag.FlagSet) *globalFlags {
	f := &globalFlags{}
	fs.StringVar(&f.config, "config", "", "path to a JSON config file")
	fs.StringVar(&f.vault, "vault", "", "path to the vault database")
	fs.StringVar(&f.backend, "backend", "", "storage backend: bolt or sqlite")
	fs.DurationVar(&f.idleTimeout, "idle-timeout", 0, "auto-lock after this much inactivity")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	return f
}

// apply copies the flags that were set explicitly into cfg
func (f *globalFlags) apply(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "vault":
			cfg.VaultPath = f.vault
		case "backend":
			cfg.Backend = f.backend
		case "idle-timeout":
			cfg.IdleTimeout = f.idleTimeout
		case "log-level":
			cfg.LogLevel = f.logLevel
		}
	})
}
