package content

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "content.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&LocalRecord{}, &LocalSingleton{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(LocalStoreConfig{Database: openTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	return store
}

func mustDocument(t *testing.T, record Record) Document {
	t.Helper()
	document, err := NewDocument(record)
	if err != nil {
		t.Fatalf("unexpected document error: %v", err)
	}
	return document
}

func waitForView(t *testing.T, service *Service, collection string, predicate func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		view, err := service.List(collection)
		if err != nil {
			t.Fatalf("list %s: %v", collection, err)
		}
		if predicate(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("view of %s never satisfied predicate, last %#v", collection, view)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// fakeRemoteStore is an in-memory Store whose snapshots are pushed by the test.
type fakeRemoteStore struct {
	mu         sync.Mutex
	documents  map[string]map[string]Document
	singletons map[string]json.RawMessage
	writeErr   error
	watchErr   error
	watchCalls int
	feeds      map[string]chan Snapshot
}

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{
		documents:  make(map[string]map[string]Document),
		singletons: make(map[string]json.RawMessage),
		feeds:      make(map[string]chan Snapshot),
	}
}

func (s *fakeRemoteStore) List(_ context.Context, collection string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	documents := make([]Document, 0, len(s.documents[collection]))
	for _, document := range s.documents[collection] {
		documents = append(documents, document)
	}
	SortDocuments(documents)
	return documents, nil
}

func (s *fakeRemoteStore) Upsert(_ context.Context, collection string, document Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.documents[collection] == nil {
		s.documents[collection] = make(map[string]Document)
	}
	s.documents[collection][document.ID] = document
	return nil
}

func (s *fakeRemoteStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if _, ok := s.documents[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.documents[collection], id)
	return nil
}

func (s *fakeRemoteStore) Count(_ context.Context, collection string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.documents[collection])), nil
}

func (s *fakeRemoteStore) Watch(_ context.Context, collection string) (<-chan Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCalls++
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	feed := make(chan Snapshot, 8)
	s.feeds[collection] = feed
	return feed, nil
}

func (s *fakeRemoteStore) LoadSingleton(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.singletons[key]
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (s *fakeRemoteStore) SaveSingleton(_ context.Context, key string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.singletons[key] = payload
	return nil
}

func (s *fakeRemoteStore) setWatchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = err
}

func (s *fakeRemoteStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCalls
}

// push delivers a snapshot once the service has subscribed to collection.
func (s *fakeRemoteStore) push(t *testing.T, collection string, documents ...Document) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		feed, ok := s.feeds[collection]
		s.mu.Unlock()
		if ok {
			feed <- Snapshot{Collection: collection, Documents: documents}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no watcher registered for %s", collection)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var errRemoteDown = errors.New("remote unavailable")
