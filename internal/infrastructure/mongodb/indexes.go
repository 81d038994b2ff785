// Package mongodb provides MongoDB infrastructure components including index management.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Default collection names.
const (
	CollectionEvents = "events"
	CollectionViews  = "views"
)

// IndexDefinition describes a MongoDB index to be created.
type IndexDefinition struct {
	Collection string
	Name       string
	Keys       bson.D
	Unique     bool
	Sparse     bool
}

func (d IndexDefinition) model() mongo.IndexModel {
	opts := options.Index().SetName(d.Name)
	if d.Unique {
		opts.SetUnique(true)
	}
	if d.Sparse {
		opts.SetSparse(true)
	}
	return mongo.IndexModel{Keys: d.Keys, Options: opts}
}

// CreateIndexes creates the given indexes. It is idempotent.
func CreateIndexes(ctx context.Context, db *mongo.Database, defs []IndexDefinition) error {
	for _, idx := range defs {
		if _, err := db.Collection(idx.Collection).Indexes().CreateOne(ctx, idx.model()); err != nil {
			return fmt.Errorf("failed to create index %s on collection %s: %w", idx.Name, idx.Collection, err)
		}
	}
	return nil
}

// CreateAllIndexes creates the indexes of the default events and views collections.
func CreateAllIndexes(ctx context.Context, db *mongo.Database) error {
	return CreateIndexes(ctx, db, GetAllIndexDefinitions())
}

// GetAllIndexDefinitions returns index definitions for the default collections.
func GetAllIndexDefinitions() []IndexDefinition {
	var indexes []IndexDefinition

	indexes = append(indexes, GetEventIndexes(CollectionEvents)...)
	indexes = append(indexes, GetViewIndexes(CollectionViews)...)

	return indexes
}

// GetEventIndexes returns the reporting indexes of an event store collection.
// The unique sequence index is owned by the store itself and created in Init.
func GetEventIndexes(collection string) []IndexDefinition {
	return []IndexDefinition{
		{
			// события определенного типа по времени
			Collection: collection,
			Name:       "idx_events_type_time",
			Keys:       bson.D{{Key: "event_type", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
		{
			Collection: collection,
			Name:       "idx_events_aggregate_type_time",
			Keys:       bson.D{{Key: "aggregate_type", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
		{
			// only envelopes written with a correlation id are indexed
			Collection: collection,
			Name:       "idx_events_correlation",
			Keys:       bson.D{{Key: "metadata.correlation_id", Value: 1}},
			Sparse:     true,
		},
	}
}

// GetViewIndexes returns index definitions of a view collection.
func GetViewIndexes(collection string) []IndexDefinition {
	return []IndexDefinition{
		{
			Collection: collection,
			Name:       "idx_views_updated_at",
			Keys:       bson.D{{Key: "updated_at", Value: -1}},
		},
		{
			// views fed by a given aggregate
			Collection: collection,
			Name:       "idx_views_positions_aggregate",
			Keys:       bson.D{{Key: "positions.aggregate_id", Value: 1}},
		},
	}
}

// CreateCollectionIndexes creates indexes for a single default collection.
func CreateCollectionIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	var defs []IndexDefinition
	switch collectionName {
	case CollectionEvents:
		defs = GetEventIndexes(collectionName)
	case CollectionViews:
		defs = GetViewIndexes(collectionName)
	default:
		return fmt.Errorf("unknown collection: %s", collectionName)
	}
	return CreateIndexes(ctx, db, defs)
}
