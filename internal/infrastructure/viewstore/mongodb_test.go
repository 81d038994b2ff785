//go:build integration

package viewstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/infrastructure/viewstore"
	"github.com/lllypuk/actuality/tests/fixtures"
	"github.com/lllypuk/actuality/tests/testutil"
)

func TestMongoRepository_Contract(t *testing.T) {
	_, db := testutil.SetupTestMongoDB(t)
	runRepositoryContract(t, func(*testing.T) testRepository {
		return viewstore.NewMongoRepository[*fixtures.TestView](db.Collection("views_" + uuid.NewString()))
	})
}

func TestMongoRepository_DocumentLayout(t *testing.T) {
	ctx := context.Background()
	_, db := testutil.SetupTestMongoDB(t)
	coll := db.Collection("views")
	repo := viewstore.NewMongoRepository[*fixtures.TestView](coll)

	vc := appcore.NewViewContext("v-1")
	vc.Advance("a.b", 4)
	require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{Description: "d"}, vc))

	var doc bson.M
	require.NoError(t, coll.FindOne(ctx, bson.M{"_id": "v-1"}).Decode(&doc))
	assert.EqualValues(t, 1, doc["version"])
	assert.Contains(t, doc, "view")
	assert.Contains(t, doc, "positions")
}
