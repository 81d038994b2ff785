package cqrs

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lllypuk/actuality/internal/application/cqrs"

// Command outcomes reported to a Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Recorder receives execution measurements, e.g. for Prometheus.
type Recorder interface {
	// CommandExecuted is called once per Execute call.
	CommandExecuted(aggregateType, outcome string, duration time.Duration)
	// EventsCommitted is called after every successful non-empty commit.
	EventsCommitted(aggregateType string, count int)
	// ConcurrencyConflict is called for every conflicting commit, retried or not.
	ConcurrencyConflict(aggregateType string)
}

type nopRecorder struct{}

func (nopRecorder) CommandExecuted(string, string, time.Duration) {}
func (nopRecorder) EventsCommitted(string, int)                   {}
func (nopRecorder) ConcurrencyConflict(string)                    {}

type frameworkOptions struct {
	logger              *slog.Logger
	recorder            Recorder
	tracer              trace.Tracer
	retryOnConflict     int
	dispatchConcurrency int
}

func newFrameworkOptions(opts []Option) *frameworkOptions {
	o := &frameworkOptions{
		logger:   slog.Default(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Framework.
type Option func(*frameworkOptions)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *frameworkOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *frameworkOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer sets the tracer used for the execution span.
// Defaults to the tracer of the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *frameworkOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRetryOnConflict reloads the aggregate and handles the command again up to
// n times when the commit hits a concurrency conflict. With 0 (the default) the
// conflict is returned to the caller.
func WithRetryOnConflict(n int) Option {
	return func(o *frameworkOptions) {
		if n > 0 {
			o.retryOnConflict = n
		}
	}
}

// WithDispatchConcurrency limits how many queries receive envelopes at the same
// time. 0 (the default) means no limit.
func WithDispatchConcurrency(n int) Option {
	return func(o *frameworkOptions) {
		if n > 0 {
			o.dispatchConcurrency = n
		}
	}
}
