package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists entries as documents keyed by _id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	owned      bool
}

// MongoOptions configures NewMongoStore.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
}

type mongoEntry struct {
	Key       string         `bson:"_id,omitempty"`
	Model     string         `bson:"model"`
	System    string         `bson:"system,omitempty"`
	Prompt    string         `bson:"prompt"`
	Params    map[string]any `bson:"params,omitempty"`
	Iteration int            `bson:"iteration"`
	Answer    string         `bson:"answer"`
	Comment   string         `bson:"comment,omitempty"`
	Raw       string         `bson:"raw,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := NewMongoStoreFromCollection(client.Database(opts.Database).Collection(opts.Collection))
	store.client = client
	store.owned = true
	return store, nil
}

// NewMongoStoreFromCollection wraps a collection owned by the caller.
func NewMongoStoreFromCollection(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var doc mongoEntry
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return doc.entry(), true, nil
}

// PutIfAbsent implements Store with a $setOnInsert upsert, so an existing
// document is never modified.
func (s *MongoStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	doc := newMongoEntry(e)
	doc.Key = ""
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": e.Key},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

// Close disconnects the client when the store created it.
func (s *MongoStore) Close() error {
	if !s.owned || s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func newMongoEntry(e Entry) mongoEntry {
	return mongoEntry{
		Key:       e.Key,
		Model:     e.Model,
		System:    e.System,
		Prompt:    e.Prompt,
		Params:    e.Params,
		Iteration: e.Iteration,
		Answer:    e.Answer,
		Comment:   e.Comment,
		Raw:       string(e.Raw),
		CreatedAt: e.CreatedAt,
	}
}

func (d mongoEntry) entry() Entry {
	e := Entry{
		Key:       d.Key,
		Model:     d.Model,
		System:    d.System,
		Prompt:    d.Prompt,
		Params:    d.Params,
		Iteration: d.Iteration,
		Answer:    d.Answer,
		Comment:   d.Comment,
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.Raw != "" {
		e.Raw = json.RawMessage(d.Raw)
	}
	return e
}
