package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
)

// DefaultMaxDispatches bounds the number of items one run may dispatch.
const DefaultMaxDispatches = 10000

// Option configures a Loop.
type Option func(*Loop)

// WithMaxDispatches sets the dispatch guard. Zero keeps the default; a
// negative value disables the guard.
func WithMaxDispatches(n int) Option {
	return func(l *Loop) {
		if n == 0 {
			n = DefaultMaxDispatches
		}
		l.maxDispatches = n
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero means no timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d < 0 {
			d = 0
		}
		l.handlerTimeout = d
	}
}

// WithSinks appends dispatch sinks. Nil sinks are skipped.
func WithSinks(sinks ...Sink) Option {
	return func(l *Loop) {
		for _, s := range sinks {
			if s != nil {
				l.sinks = append(l.sinks, s)
			}
		}
	}
}

// WithEventObserver registers a callback for committed events. A procedure's
// emissions are buffered until it returns nil, so fn sees them as a batch
// when the procedure commits, never at the Emit call itself. Events of a
// failed procedure are never observed.
func WithEventObserver(fn EventObserver) Option {
	return func(l *Loop) {
		if fn != nil {
			l.observers = append(l.observers, fn)
		}
	}
}

// WithMetaEvents registers a callback for cycle boundary events.
func WithMetaEvents(fn MetaObserver) Option {
	return func(l *Loop) {
		l.meta = fn
	}
}

// WithLogger replaces the loop logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithCapabilities checks at construction that every query and mutator the
// registry declares is offered by provider.
func WithCapabilities(provider *capability.Provider) Option {
	return func(l *Loop) {
		l.provider = provider
	}
}

// WithClock overrides the time source used for outcome durations.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(l *Loop) {
		if fn != nil {
			l.newRunID = fn
		}
	}
}
