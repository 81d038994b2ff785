// Package metrics exposes Prometheus metrics of command execution and views.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

// CommandMetrics contains Prometheus metrics of the command path and of query failures.
type CommandMetrics struct {
	CommandsTotal        *prometheus.CounterVec
	CommandDuration      *prometheus.HistogramVec
	EventsCommittedTotal *prometheus.CounterVec
	ConflictsTotal       *prometheus.CounterVec
	QueryFailuresTotal   *prometheus.CounterVec
}

// NewCommandMetrics creates and registers the metrics with the given registerer.
func NewCommandMetrics(registerer prometheus.Registerer) *CommandMetrics {
	m := &CommandMetrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuality_commands_total",
				Help: "Total number of executed commands",
			},
			[]string{"aggregate_type", "outcome"}, // outcome: success/rejected/conflict/error
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "actuality_command_duration_seconds",
				Help:    "Time from submission to completion of a command, dispatch included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"aggregate_type"},
		),
		EventsCommittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuality_events_committed_total",
				Help: "Total number of committed events",
			},
			[]string{"aggregate_type"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuality_concurrency_conflicts_total",
				Help: "Total number of commits rejected by optimistic concurrency control",
			},
			[]string{"aggregate_type"},
		),
		QueryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuality_query_failures_total",
				Help: "Total number of failed view loads and updates",
			},
			[]string{"query", "op"},
		),
	}

	registerer.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.EventsCommittedTotal,
		m.ConflictsTotal,
		m.QueryFailuresTotal,
	)

	return m
}

// CommandExecuted records one finished command.
func (m *CommandMetrics) CommandExecuted(aggregateType, outcome string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(aggregateType, outcome).Inc()
	m.CommandDuration.WithLabelValues(aggregateType).Observe(duration.Seconds())
}

// EventsCommitted records committed events.
func (m *CommandMetrics) EventsCommitted(aggregateType string, count int) {
	m.EventsCommittedTotal.WithLabelValues(aggregateType).Add(float64(count))
}

// ConcurrencyConflict records a rejected commit.
func (m *CommandMetrics) ConcurrencyConflict(aggregateType string) {
	m.ConflictsTotal.WithLabelValues(aggregateType).Inc()
}

// QueryErrorHandler counts query failures and then calls next, if any.
func (m *CommandMetrics) QueryErrorHandler(next func(*appcore.QueryError)) func(*appcore.QueryError) {
	return func(err *appcore.QueryError) {
		m.QueryFailuresTotal.WithLabelValues(err.Query, err.Op).Inc()
		if next != nil {
			next(err)
		}
	}
}
