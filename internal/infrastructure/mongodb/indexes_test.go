package mongodb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/infrastructure/mongodb"
)

func TestGetEventIndexes(t *testing.T) {
	t.Parallel()

	indexes := mongodb.GetEventIndexes("audit_events")

	require.Len(t, indexes, 3)
	for _, idx := range indexes {
		assert.Equal(t, "audit_events", idx.Collection)
		assert.False(t, idx.Unique, "uniqueness is enforced by the event store")
	}

	correlation := findIndex(indexes, "idx_events_correlation")
	require.NotNil(t, correlation)
	assert.True(t, correlation.Sparse)
	assert.Equal(t, "metadata.correlation_id", correlation.Keys[0].Key)
}

func TestGetViewIndexes(t *testing.T) {
	t.Parallel()

	indexes := mongodb.GetViewIndexes("activity")

	require.Len(t, indexes, 2)
	assert.NotNil(t, findIndex(indexes, "idx_views_updated_at"))

	positions := findIndex(indexes, "idx_views_positions_aggregate")
	require.NotNil(t, positions)
	assert.Equal(t, "positions.aggregate_id", positions.Keys[0].Key)
}

func TestGetAllIndexDefinitions(t *testing.T) {
	t.Parallel()

	indexes := mongodb.GetAllIndexDefinitions()

	names := make(map[string]bool)
	for _, idx := range indexes {
		assert.NotEmpty(t, idx.Keys, "index should have keys")
		assert.False(t, names[idx.Name], "duplicate index name %s", idx.Name)
		names[idx.Name] = true
		assert.Contains(t, []string{mongodb.CollectionEvents, mongodb.CollectionViews}, idx.Collection)
	}
	assert.Len(t, indexes, 5)
}

func findIndex(indexes []mongodb.IndexDefinition, name string) *mongodb.IndexDefinition {
	for i := range indexes {
		if indexes[i].Name == name {
			return &indexes[i]
		}
	}
	return nil
}
