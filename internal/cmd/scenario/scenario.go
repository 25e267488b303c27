// Package scenario parses scenario command flags and runs Lua scenarios
// against the todo app.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/submit"
	entrypoint "github.com/louisbranch/dizzy/internal/platform/cmd"
	"github.com/louisbranch/dizzy/internal/platform/logging"
	"github.com/louisbranch/dizzy/internal/storage/sqlite"
	"github.com/louisbranch/dizzy/internal/tools/scenario"
)

// Config holds scenario command configuration. Env tags are relative to the
// DIZZY_ prefix.
type Config struct {
	Scenarios     []string      `env:"SCENARIO_FILES" envSeparator:","`
	Assertions    bool          `env:"SCENARIO_ASSERT" envDefault:"true"`
	Verbose       bool          `env:"SCENARIO_VERBOSE"`
	Timeout       time.Duration `env:"SCENARIO_TIMEOUT" envDefault:"10s"`
	MaxDispatches int           `env:"MAX_DISPATCHES" envDefault:"10000"`
	// JournalPath, when set, journals scenario events into a SQLite store.
	JournalPath string `env:"SCENARIO_JOURNAL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"warn"`
}

// ParseConfig parses environment and flags into a Config. Positional
// arguments are additional scenario files.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	var single string
	fs.StringVar(&single, "scenario", "", "path to scenario lua file")
	fs.BoolVar(&cfg.Assertions, "assert", cfg.Assertions, "enable assertions (disable to log expectations)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout per step")
	fs.IntVar(&cfg.MaxDispatches, "max-dispatches", cfg.MaxDispatches, "dispatch guard per submit")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "optional SQLite path that journals scenario events")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level for dispatch logs")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if single != "" {
		cfg.Scenarios = append([]string{single}, cfg.Scenarios...)
	}
	cfg.Scenarios = append(cfg.Scenarios, fs.Args()...)
	return cfg, nil
}

// Run executes every configured scenario and stops at the first failure.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if len(cfg.Scenarios) == 0 {
		return errors.New("scenario path is required")
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel, Output: errOut, Service: entrypoint.ServiceScenario})

	mode := scenario.AssertionStrict
	if !cfg.Assertions {
		mode = scenario.AssertionLogOnly
	}
	runCfg := scenario.Config{
		Timeout:       cfg.Timeout,
		MaxDispatches: cfg.MaxDispatches,
		Assertions:    mode,
		Verbose:       cfg.Verbose,
		Logger:        log.New(errOut, "", 0),
	}
	if cfg.JournalPath != "" {
		store, err := sqlite.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		runCfg.Journal = submit.JournalFunc(func(ctx context.Context, envs []codec.Envelope) error {
			_, err := store.AppendEvents(ctx, envs)
			return err
		})
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceScenario, func(ctx context.Context) error {
		for _, path := range cfg.Scenarios {
			if err := scenario.RunFile(ctx, runCfg, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(out, "ok   %s\n", path)
		}
		return nil
	})
}
