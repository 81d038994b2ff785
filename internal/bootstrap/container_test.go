package bootstrap_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/bootstrap"
	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/infrastructure/viewstore"
	"github.com/lllypuk/actuality/tests/fixtures"
	"github.com/lllypuk/actuality/tests/testutil"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
		{"uppercase not handled", "DEBUG", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bootstrap.ParseLogLevel(tt.level))
		})
	}
}

func localConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.EventBus.Type = "none"
	return cfg
}

func newContainer(t *testing.T, cfg *config.Config) *bootstrap.Container {
	t.Helper()
	c, err := bootstrap.NewContainer(cfg, bootstrap.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func TestNewContainer_LocalBackendsOpenNothing(t *testing.T) {
	c := newContainer(t, localConfig())

	assert.Nil(t, c.MongoDB)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.SQLite)
	assert.Nil(t, c.NATS)
	assert.NotNil(t, c.Metrics)
	assert.True(t, c.Health.IsReady(context.Background()))

	families, err := c.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestContainer_RawStoreRejectsMemory(t *testing.T) {
	c := newContainer(t, localConfig())

	_, err := c.RawStore(context.Background(), fixtures.AggregateType)

	require.ErrorIs(t, err, bootstrap.ErrProcessLocalStore)
}

func TestViewRepository_Memory(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t, localConfig())

	repo, err := bootstrap.ViewRepository[*fixtures.TestView](ctx, c, "test")
	require.NoError(t, err)
	assert.IsType(t, &viewstore.MemoryRepository[*fixtures.TestView]{}, repo)

	_, _, err = repo.LoadWithContext(ctx, "missing")
	assert.ErrorIs(t, err, appcore.ErrViewNotFound)
}

func TestViewRepository_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()
	cfg.Views.Backend = config.BackendSQLite
	cfg.SQLite.Path = ":memory:"
	c := newContainer(t, cfg)
	require.NotNil(t, c.SQLite)

	repo, err := bootstrap.ViewRepository[*fixtures.TestView](ctx, c, "test")
	require.NoError(t, err)

	view := fixtures.NewTestView()
	view.Description = "stored"
	vc := appcore.NewViewContext("v-1")
	vc.Advance("a-1", 1)
	require.NoError(t, repo.UpdateView(ctx, view, vc))

	loaded, loadedCtx, err := repo.LoadWithContext(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "stored", loaded.Description)
	assert.Equal(t, 1, loadedCtx.Version)

	statuses := c.Health.GetHealthStatus(ctx)
	require.Len(t, statuses, 1)
	assert.Equal(t, "sqlite", statuses[0].Name)
}

func TestStreamSettings(t *testing.T) {
	cfg := config.DefaultConfig().JetStream
	settings := bootstrap.StreamSettings(cfg)
	assert.Equal(t, jetstream.FileStorage, settings.Storage)
	assert.Equal(t, 1, settings.Replicas)

	cfg.Storage = "Memory"
	cfg.Replicas = 3
	cfg.MaxMsgSize = 1 << 20
	cfg.DuplicateWindow = time.Minute
	settings = bootstrap.StreamSettings(cfg)
	assert.Equal(t, jetstream.MemoryStorage, settings.Storage)
	assert.Equal(t, 3, settings.Replicas)
	assert.Equal(t, int32(1<<20), settings.MaxMsgSize)
	assert.Equal(t, time.Minute, settings.DuplicateWindow)
}
