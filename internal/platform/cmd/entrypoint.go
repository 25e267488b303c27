package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/dizzy/internal/platform/config"
	"github.com/louisbranch/dizzy/internal/platform/logging"
	"github.com/louisbranch/dizzy/internal/platform/otel"
	"github.com/louisbranch/dizzy/internal/platform/timeouts"
)

// Service identifiers used for telemetry resources and log prefixes.
const (
	ServiceDizzy    = "dizzy"
	ServiceScenario = "scenario"
)

// RunOption adjusts RunWithTelemetry.
type RunOption func(*runOptions)

type runOptions struct {
	shutdownTimeout time.Duration
}

// WithShutdownTimeout bounds the telemetry flush after run returns.
func WithShutdownTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// ParseConfig loads DIZZY_ prefixed environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnvWithPrefix(cfg, config.Prefix)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry installs the tracer provider for service, runs run, and
// flushes spans before returning run's error.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error, opts ...RunOption) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	options := runOptions{shutdownTimeout: timeouts.Shutdown}
	for _, opt := range opts {
		opt(&options)
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	logger := logging.WithComponent("cmd")
	logger.Debug().Str(logging.FieldService, service).Msg("telemetry configured")

	runErr := run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), options.shutdownTimeout)
	defer cancel()
	if err := shutdown(flushCtx); err != nil {
		log.Printf("%s otel shutdown: %v", service, err)
	}
	return runErr
}
