package query

import (
	"log/slog"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

// ErrorHandler receives failures of a query. It is called from the goroutine that
// dispatched the envelopes and must not block for long.
type ErrorHandler func(err *appcore.QueryError)

type queryOptions struct {
	name            string
	logger          *slog.Logger
	retryOnConflict int
}

// Option configures a GenericQuery.
type Option func(*queryOptions)

// WithName sets the query name reported in QueryError. Defaults to the view type.
func WithName(name string) Option {
	return func(o *queryOptions) {
		o.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *queryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryOnConflict makes ApplyEvents reload the view and apply again when another
// writer updated it in between, at most n times.
func WithRetryOnConflict(n int) Option {
	return func(o *queryOptions) {
		if n > 0 {
			o.retryOnConflict = n
		}
	}
}
