package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	singletonCollection = "site_config"
	defaultPollInterval = 15 * time.Second
)

type mongoDocument struct {
	ID        string `bson:"_id"`
	CreatedAt int64  `bson:"createdAt"`
	UpdatedAt int64  `bson:"updatedAt"`
	Payload   string `bson:"payload"`
}

// MongoStoreConfig wires the remote document store.
type MongoStoreConfig struct {
	Database     *mongo.Database
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// MongoStore is the remote, authoritative document store. Each collection maps to a mongo
// collection of the same name; singletons live in site_config.
type MongoStore struct {
	db           *mongo.Database
	pollInterval time.Duration
	clock        func() time.Time
	logger       *zap.Logger
}

var errMissingMongoDatabase = errors.New("mongo database handle is required")

// NewMongoStore constructs a MongoStore.
func NewMongoStore(cfg MongoStoreConfig) (*MongoStore, error) {
	if cfg.Database == nil {
		return nil, errMissingMongoDatabase
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{db: cfg.Database, pollInterval: interval, clock: clock, logger: logger}, nil
}

// EnsureIndexes creates the ordering index on every content collection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	collections := append(EditableCollections(), CollectionVisits)
	for _, name := range collections {
		model := mongo.IndexModel{
			Keys: bson.D{
				{Key: "createdAt", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName("idx_created_desc"),
		}
		if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("content: index %s: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, collection string) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: -1},
	})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var documents []Document
	for cursor.Next(ctx) {
		var stored mongoDocument
		if err := cursor.Decode(&stored); err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("collection", collection), zap.Error(err))
			continue
		}
		documents = append(documents, Document{
			ID:        stored.ID,
			CreatedAt: stored.CreatedAt,
			Payload:   json.RawMessage(stored.Payload),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	SortDocuments(documents)
	return documents, nil
}

func (s *MongoStore) Upsert(ctx context.Context, collection string, document Document) error {
	stored := mongoDocument{
		ID:        document.ID,
		CreatedAt: document.CreatedAt,
		UpdatedAt: s.clock().UTC().UnixMilli(),
		Payload:   string(document.Payload),
	}
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": document.ID},
		stored,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Count(ctx context.Context, collection string) (int64, error) {
	return s.db.Collection(collection).CountDocuments(ctx, bson.D{})
}

func (s *MongoStore) LoadSingleton(ctx context.Context, key string) (json.RawMessage, error) {
	var stored mongoDocument
	err := s.db.Collection(singletonCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(stored.Payload), nil
}

func (s *MongoStore) SaveSingleton(ctx context.Context, key string, payload json.RawMessage) error {
	now := s.clock().UTC().UnixMilli()
	_, err := s.db.Collection(singletonCollection).ReplaceOne(ctx,
		bson.M{"_id": key},
		mongoDocument{ID: key, CreatedAt: now, UpdatedAt: now, Payload: string(payload)},
		options.Replace().SetUpsert(true),
	)
	return err
}

// Watch emits a snapshot now and after every change-stream event. Deployments without
// change streams (standalone servers) fall back to polling at PollInterval.
func (s *MongoStore) Watch(ctx context.Context, collection string) (<-chan Snapshot, error) {
	initial, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- Snapshot{Collection: collection, Documents: initial}

	go func() {
		defer close(out)
		if err := s.followChangeStream(ctx, collection, out); err != nil && ctx.Err() == nil {
			s.logger.Warn("change stream unavailable, polling remote collection",
				zap.String("collection", collection),
				zap.Duration("interval", s.pollInterval),
				zap.Error(err),
			)
			s.poll(ctx, collection, out)
		}
	}()
	return out, nil
}

func (s *MongoStore) followChangeStream(ctx context.Context, collection string, out chan<- Snapshot) error {
	stream, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		if !s.emit(ctx, collection, out) {
			return nil
		}
	}
	return stream.Err()
}

func (s *MongoStore) poll(ctx context.Context, collection string, out chan<- Snapshot) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.emit(ctx, collection, out) {
				return
			}
		}
	}
}

// emit lists the collection and forwards the snapshot. It reports false once ctx has ended.
func (s *MongoStore) emit(ctx context.Context, collection string, out chan<- Snapshot) bool {
	documents, err := s.List(ctx, collection)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Warn("remote snapshot failed", zap.String("collection", collection), zap.Error(err))
		return true
	}
	select {
	case out <- Snapshot{Collection: collection, Documents: documents}:
		return true
	case <-ctx.Done():
		return false
	}
}
