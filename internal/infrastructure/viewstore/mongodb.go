package viewstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

// mongoDocument is the stored form of a view. The view itself is kept as a
// sub-document so its fields never clash with the context fields.
type mongoDocument struct {
	ID        string     `bson:"_id"`
	Version   int        `bson:"version"`
	Positions []position `bson:"positions"`
	View      bson.Raw   `bson:"view"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

// MongoRepository stores views of one type in a MongoDB collection, one document
// per view id.
type MongoRepository[V any] struct {
	coll *mongo.Collection
	opts repoOptions
}

var _ appcore.ViewRepository[any] = (*MongoRepository[any])(nil)

// NewMongoRepository creates a repository over coll.
func NewMongoRepository[V any](coll *mongo.Collection, opts ...Option) *MongoRepository[V] {
	return &MongoRepository[V]{
		coll: coll,
		opts: newRepoOptions(opts),
	}
}

// LoadWithContext returns the view and its context, or appcore.ErrViewNotFound.
func (r *MongoRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, appcore.ViewContext, error) {
	var view V

	var doc mongoDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": viewID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return view, appcore.ViewContext{}, appcore.ErrViewNotFound
	}
	if err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to load view %s: %w", viewID, err)
	}

	if err = bson.Unmarshal(doc.View, &view); err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to decode view %s: %w", viewID, err)
	}
	return view, storedContext(viewID, doc.Version, positionsFromList(doc.Positions)), nil
}

// UpdateView inserts the first version of a view and replaces later versions
// only when the stored version equals vc.Version.
func (r *MongoRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	raw, err := bson.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode view %s: %w", vc.ViewID, err)
	}

	doc := mongoDocument{
		ID:        vc.ViewID,
		Version:   vc.Version + 1,
		Positions: positionsToList(vc.Positions),
		View:      raw,
		UpdatedAt: time.Now().UTC(),
	}

	if vc.Version == 0 {
		_, err = r.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			r.logConflict(ctx, vc)
			return conflictError(vc.ViewID, vc.Version)
		}
		if err != nil {
			return fmt.Errorf("failed to insert view %s: %w", vc.ViewID, err)
		}
		return nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": vc.ViewID, "version": vc.Version}, doc)
	if err != nil {
		return fmt.Errorf("failed to update view %s: %w", vc.ViewID, err)
	}
	if res.MatchedCount == 0 {
		r.logConflict(ctx, vc)
		return conflictError(vc.ViewID, vc.Version)
	}
	return nil
}

func (r *MongoRepository[V]) logConflict(ctx context.Context, vc appcore.ViewContext) {
	r.opts.logger.WarnContext(ctx, "view version conflict",
		slog.String("collection", r.coll.Name()),
		slog.String("view_id", vc.ViewID),
		slog.Int("expected_version", vc.Version),
	)
}
