package content

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Runs against a live server only when FOLIO_TEST_MONGO_URI is set.
func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("FOLIO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FOLIO_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	database := client.Database("folio_test_" + time.Now().UTC().Format("20060102150405"))
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = database.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	store, err := NewMongoStore(MongoStoreConfig{Database: database, PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new mongo store: %v", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return store
}

func TestMongoStoreRoundTrip(t *testing.T) {
	store := newTestMongoStore(t)
	ctx := context.Background()

	for _, faq := range []FAQ{
		{ID: "1", Question: "Q1", Answer: "A", CreatedAt: 1},
		{ID: "2", Question: "Q2", Answer: "A", CreatedAt: 2},
	} {
		if err := store.Upsert(ctx, CollectionFAQs, mustDocument(t, faq)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	documents, err := store.List(ctx, CollectionFAQs)
	if err != nil || len(documents) != 2 || documents[0].ID != "2" {
		t.Fatalf("unexpected list %#v (%v)", documents, err)
	}
	if err := store.Delete(ctx, CollectionFAQs, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, CollectionFAQs, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.LoadSingleton(ctx, "identity"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing singleton, got %v", err)
	}
	if err := store.SaveSingleton(ctx, "identity", []byte(`{"name":"Ada"}`)); err != nil {
		t.Fatalf("save singleton: %v", err)
	}
	payload, err := store.LoadSingleton(ctx, "identity")
	if err != nil || string(payload) != `{"name":"Ada"}` {
		t.Fatalf("unexpected singleton %s (%v)", payload, err)
	}
}

func TestMongoStoreWatchEmitsInitialSnapshot(t *testing.T) {
	store := newTestMongoStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Upsert(ctx, CollectionTools, mustDocument(t, Tool{ID: "1", Name: "Go", CreatedAt: 1})); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	snapshots, err := store.Watch(ctx, CollectionTools)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	initial := receiveSnapshot(t, snapshots)
	if len(initial.Documents) != 1 {
		t.Fatalf("expected one document, got %d", len(initial.Documents))
	}

	if err := store.Upsert(ctx, CollectionTools, mustDocument(t, Tool{ID: "2", Name: "Zig", CreatedAt: 2})); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snapshot := receiveSnapshot(t, snapshots); len(snapshot.Documents) == 2 {
			return
		}
	}
	t.Fatalf("never observed the second document")
}
