package sink

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
)

// Failure reasons used as metric labels.
const (
	ReasonViolation = "capability_violation"
	ReasonTimeout   = "timeout"
	ReasonFailure   = "failure"
)

// Metrics counts dispatches, failures and emissions. Labels carry handler
// names and kinds only, never ids.
type Metrics struct {
	dispatches *prometheus.CounterVec
	failures   *prometheus.CounterVec
	emitted    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Registering twice on the same
// registerer panics, as promauto does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dizzy_dispatch_total",
			Help: "Total number of handler invocations, by item kind and handler.",
		}, []string{"kind", "handler"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dizzy_dispatch_failures_total",
			Help: "Total number of failed handler invocations, by item kind, handler and reason.",
		}, []string{"kind", "handler", "reason"}),
		emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dizzy_emitted_total",
			Help: "Total number of items committed by handlers, by emitted kind.",
		}, []string{"kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dizzy_handler_duration_seconds",
			Help:    "Handler invocation latency, by item kind.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
	}
}

// OnDispatch implements engine.Sink.
func (m *Metrics) OnDispatch(_ context.Context, d engine.Dispatch) error {
	m.dispatches.WithLabelValues(string(d.Kind), d.Handler).Inc()
	return nil
}

// OnComplete implements engine.CompletionSink.
func (m *Metrics) OnComplete(_ context.Context, d engine.Dispatch, o engine.Outcome) error {
	m.duration.WithLabelValues(string(d.Kind)).Observe(o.Duration.Seconds())
	if o.Cancelled {
		return nil
	}
	if o.Err != nil {
		m.failures.WithLabelValues(string(d.Kind), d.Handler, FailureReason(o.Err)).Inc()
		return nil
	}
	if n := len(o.Events); n > 0 {
		m.emitted.WithLabelValues(string(engine.KindEvent)).Add(float64(n))
	}
	if n := len(o.Commands); n > 0 {
		m.emitted.WithLabelValues(string(engine.KindCommand)).Add(float64(n))
	}
	return nil
}

// FailureReason maps a handler error to a metric label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, capability.ErrCapabilityViolation):
		return ReasonViolation
	case errors.Is(err, engine.ErrHandlerTimeout):
		return ReasonTimeout
	default:
		return ReasonFailure
	}
}

var _ engine.CompletionSink = (*Metrics)(nil)
