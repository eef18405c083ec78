package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Duration is a time.Duration that unmarshals from either a string such as
// "15m" or an integer number of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// JSONConfig is the on-disk form of Config. Absent fields leave the
// current value untouched.
type JSONConfig struct {
	VaultPath        string    `json:"vault_path"`
	Backend          string    `json:"backend"`
	IdleTimeout      *Duration `json:"idle_timeout"`
	LogLevel         string    `json:"log_level"`
	Iterations       int       `json:"iterations"`
	MinStrengthScore *int      `json:"min_strength_score"`
}

// parseJSON overlays cfg with values loaded from the JSON file at path
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if jc.VaultPath != "" {
		cfg.VaultPath = jc.VaultPath
	}
	if jc.Backend != "" {
		cfg.Backend = jc.Backend
	}
	if jc.IdleTimeout != nil {
		cfg.IdleTimeout = jc.IdleTimeout.Duration
	}
	if jc.LogLevel != "" {
		cfg.LogLevel = jc.LogLevel
	}
	if jc.Iterations != 0 {
		cfg.Iterations = jc.Iterations
	}
	if jc.MinStrengthScore != nil {
		cfg.MinStrengthScore = *jc.MinStrengthScore
	}
	return nil
}
