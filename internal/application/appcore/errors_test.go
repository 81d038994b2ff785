package appcore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

func TestCommandError(t *testing.T) {
	err := &appcore.CommandError{
		AggregateType: "test",
		AggregateID:   "a-1",
		Err:           appcore.NewUserError("test already performed"),
	}

	assert.Equal(t, "test a-1 rejected command: test already performed", err.Error())

	var userErr appcore.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "test already performed", string(userErr))
	assert.False(t, appcore.IsConcurrencyConflict(err))
}

func TestConflictError(t *testing.T) {
	err := appcore.NewConflictError("a-1", 2, 3)

	assert.True(t, appcore.IsConcurrencyConflict(err))
	assert.True(t, appcore.IsConcurrencyConflict(fmt.Errorf("wrapped: %w", err)))

	var pErr *appcore.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "commit", pErr.Op)
	assert.Equal(t, "a-1", pErr.AggregateID)
	assert.Contains(t, err.Error(), "expected sequence 2, found 3")
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("connection refused")

	t.Run("with aggregate id", func(t *testing.T) {
		err := appcore.NewPersistenceError("load", "a-1", cause)
		assert.Equal(t, "persistence error on load for a-1: connection refused", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("without aggregate id", func(t *testing.T) {
		err := appcore.NewPersistenceError("init", "", cause)
		assert.Equal(t, "persistence error on init: connection refused", err.Error())
	})
}

func TestQueryError(t *testing.T) {
	err := &appcore.QueryError{Query: "activity", ViewID: "v-1", Op: "update", Err: appcore.ErrConcurrencyConflict}

	assert.Equal(t, "query activity failed to update view v-1: concurrency conflict detected", err.Error())
	assert.True(t, appcore.IsConcurrencyConflict(err))
}

func TestViewContext(t *testing.T) {
	vc := appcore.NewViewContext("v-1")
	assert.Equal(t, 0, vc.Version)
	assert.False(t, vc.Seen("a-1", 1))

	vc.Advance("a-1", 2)
	assert.True(t, vc.Seen("a-1", 1))
	assert.True(t, vc.Seen("a-1", 2))
	assert.False(t, vc.Seen("a-1", 3))
	assert.False(t, vc.Seen("a-2", 1))

	// positions never move backwards
	vc.Advance("a-1", 1)
	assert.Equal(t, 2, vc.Positions["a-1"])

	var zero appcore.ViewContext
	zero.Advance("a-3", 1)
	assert.Equal(t, 1, zero.Positions["a-3"])
}
