package engine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the document-store collaborator the engine writes through. The
// production implementation is backed by a mongo.Database; tests may inject
// an in-memory fake via WithStore. Session and transaction scope travels in
// the context unchanged.
type Store interface {
	// UpsertOne applies the given fields to the single document matching
	// filter, inserting it when missing. Fields absent from the update are
	// left untouched.
	UpsertOne(ctx context.Context, collection string, filter bson.M, fields bson.M) error
	DeleteOne(ctx context.Context, collection string, filter bson.M) error
	DeleteMany(ctx context.Context, collection string, filter bson.M) error
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error)
	ListCollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, opts *options.CreateCollectionOptions) error
	CreateIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error
}

type mongoStore struct {
	db *mongo.Database
}

func (s *mongoStore) UpsertOne(ctx context.Context, collection string, filter bson.M, fields bson.M) error {
	// An empty $set is rejected by the server; a bare id row still has to
	// insert.
	update := bson.M{"$set": fields}
	if len(fields) == 0 {
		update = bson.M{"$setOnInsert": filter}
	}
	_, err := s.db.Collection(collection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

func (s *mongoStore) DeleteOne(ctx context.Context, collection string, filter bson.M) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}

func (s *mongoStore) DeleteMany(ctx context.Context, collection string, filter bson.M) error {
	_, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete many %s: %w", collection, err)
	}
	return nil
}

func (s *mongoStore) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *mongoStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	return rows, nil
}

func (s *mongoStore) ListCollectionNames(ctx context.Context) ([]string, error) {
	return s.db.ListCollectionNames(ctx, bson.M{})
}

func (s *mongoStore) CreateCollection(ctx context.Context, name string, opts *options.CreateCollectionOptions) error {
	return s.db.CreateCollection(ctx, name, opts)
}

func (s *mongoStore) CreateIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error {
	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models)
	return err
}
