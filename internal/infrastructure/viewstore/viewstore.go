// Package viewstore provides ViewRepository implementations.
//
// Every repository stores the view next to its ViewContext and updates both with a
// compare-and-swap on the context version: the write succeeds only when the stored
// version still equals the version the caller loaded, and a successful write
// increments it.
package viewstore

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

type repoOptions struct {
	logger *slog.Logger
}

// Option configures a repository.
type Option func(*repoOptions)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *repoOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newRepoOptions(opts []Option) repoOptions {
	o := repoOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func conflictError(viewID string, expected int) error {
	return fmt.Errorf("%w: view %s is no longer at version %d",
		appcore.ErrConcurrencyConflict, viewID, expected)
}

// position is the document form of one ViewContext.Positions entry. Aggregate ids
// are not safe as document keys in every backend.
type position struct {
	AggregateID string `json:"aggregate_id" bson:"aggregate_id"`
	Sequence    int    `json:"sequence" bson:"sequence"`
}

func positionsToList(m map[string]int) []position {
	out := make([]position, 0, len(m))
	for id, seq := range m {
		out = append(out, position{AggregateID: id, Sequence: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateID < out[j].AggregateID })
	return out
}

func positionsFromList(list []position) map[string]int {
	m := make(map[string]int, len(list))
	for _, p := range list {
		m[p.AggregateID] = p.Sequence
	}
	return m
}

func storedContext(viewID string, version int, positions map[string]int) appcore.ViewContext {
	vc := appcore.NewViewContext(viewID)
	vc.Version = version
	maps.Copy(vc.Positions, positions)
	return vc
}
