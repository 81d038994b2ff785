package viewstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

type memoryEntry struct {
	data      []byte
	version   int
	positions map[string]int
}

// MemoryRepository keeps views in memory. Views are stored as JSON so callers never
// share state with the repository.
type MemoryRepository[V any] struct {
	mu    sync.RWMutex
	views map[string]memoryEntry
	opts  repoOptions
}

var _ appcore.ViewRepository[any] = (*MemoryRepository[any])(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository[V any](opts ...Option) *MemoryRepository[V] {
	return &MemoryRepository[V]{
		views: make(map[string]memoryEntry),
		opts:  newRepoOptions(opts),
	}
}

// LoadWithContext returns the view and its context, or appcore.ErrViewNotFound.
func (r *MemoryRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, appcore.ViewContext, error) {
	var view V
	if err := ctx.Err(); err != nil {
		return view, appcore.ViewContext{}, err
	}

	r.mu.RLock()
	entry, ok := r.views[viewID]
	r.mu.RUnlock()
	if !ok {
		return view, appcore.ViewContext{}, appcore.ErrViewNotFound
	}

	if err := json.Unmarshal(entry.data, &view); err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to decode view %s: %w", viewID, err)
	}
	return view, storedContext(viewID, entry.version, entry.positions), nil
}

// UpdateView stores view if the stored version equals vc.Version.
func (r *MemoryRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode view %s: %w", vc.ViewID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.views[vc.ViewID].version
	if current != vc.Version {
		return conflictError(vc.ViewID, vc.Version)
	}
	r.views[vc.ViewID] = memoryEntry{
		data:      data,
		version:   current + 1,
		positions: maps.Clone(vc.Positions),
	}
	return nil
}

// Len returns the number of stored views.
func (r *MemoryRepository[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}
