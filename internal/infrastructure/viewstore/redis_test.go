//go:build integration

package viewstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/infrastructure/viewstore"
	"github.com/lllypuk/actuality/tests/fixtures"
	"github.com/lllypuk/actuality/tests/testutil"
)

func TestRedisRepository_Contract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) testRepository {
		client, prefix := testutil.SetupTestRedis(t)
		return viewstore.NewRedisRepository[*fixtures.TestView](client, prefix)
	})
}

func TestRedisRepository_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	client, prefix := testutil.SetupTestRedis(t)
	repo := viewstore.NewRedisRepository[*fixtures.TestView](client, prefix+"views:")

	require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{}, appcore.NewViewContext("v-1")))

	exists, err := client.Exists(ctx, prefix+"views:v-1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)
}
