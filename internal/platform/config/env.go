// Package config loads entry point settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix namespaces every environment variable read by dizzy.
const Prefix = "DIZZY_"

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvWithPrefix loads configuration whose env tags omit prefix.
func ParseEnvWithPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Dispatch holds the settings shared by the dispatch entry points. Tags are
// relative to Prefix.
type Dispatch struct {
	DBPath         string        `env:"DB_PATH" envDefault:"dizzy.db"`
	MaxDispatches  int           `env:"MAX_DISPATCHES" envDefault:"10000"`
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole     bool          `env:"LOG_CONSOLE"`
	Provenance     bool          `env:"PROVENANCE"`
}

// LoadDispatch reads Dispatch from DIZZY_ variables.
func LoadDispatch() (Dispatch, error) {
	var cfg Dispatch
	if err := ParseEnvWithPrefix(&cfg, Prefix); err != nil {
		return Dispatch{}, err
	}
	return cfg, nil
}
