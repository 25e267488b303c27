// Package logging configures the process-wide zerolog logger and hands out
// component loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for the base logger.
type Config struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// Service is attached to every entry. Empty means "dizzy".
	Service string
	// Console switches to human readable output.
	Console bool
}

var (
	mu   sync.RWMutex
	base = newLogger(Config{})
)

// Configure replaces the base logger. Loggers derived earlier keep their
// previous settings.
func Configure(cfg Config) zerolog.Logger {
	logger := newLogger(cfg)
	mu.Lock()
	base = logger
	mu.Unlock()
	return logger
}

func newLogger(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := ParseLevel(cfg.Level); err == nil {
		level = parsed
	}
	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if cfg.Console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "dizzy"
	}
	return zerolog.New(writer).Level(level).With().
		Timestamp().
		Str(FieldService, service).
		Logger()
}

// ParseLevel accepts zerolog level names case-insensitively. Empty input
// yields info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}

// Derive attaches arbitrary fields to a child of the base logger.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := Base().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}

// Nop returns a disabled logger for tests and quiet callers.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
