package content

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Snapshot is the complete state of a collection at one point in time.
type Snapshot struct {
	Collection string
	Documents  []Document
}

// Store persists documents and announces collection snapshots.
type Store interface {
	List(ctx context.Context, collection string) ([]Document, error)
	Upsert(ctx context.Context, collection string, document Document) error
	Delete(ctx context.Context, collection, id string) error
	// Watch emits the current snapshot immediately and again after every change until ctx ends.
	Watch(ctx context.Context, collection string) (<-chan Snapshot, error)
	LoadSingleton(ctx context.Context, key string) (json.RawMessage, error)
	SaveSingleton(ctx context.Context, key string, payload json.RawMessage) error
	Count(ctx context.Context, collection string) (int64, error)
}

// LocalRecord is the relational row backing one document.
type LocalRecord struct {
	Collection  string `gorm:"column:collection;primaryKey;size:64;not null;index:idx_content_collection_created,priority:1"`
	RecordID    string `gorm:"column:record_id;primaryKey;size:190;not null"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null;index:idx_content_collection_created,priority:2"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null"`
	Version     int64  `gorm:"column:version;not null;default:1"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocalRecord) TableName() string {
	return "content_records"
}

// LocalSingleton stores single documents such as the site identity.
type LocalSingleton struct {
	Key         string `gorm:"column:singleton_key;primaryKey;size:64;not null"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocalSingleton) TableName() string {
	return "content_singletons"
}

// LocalStoreConfig wires the relational mirror.
type LocalStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// LocalStore keeps the content mirror in the relational database.
type LocalStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[string]map[int]chan struct{}
	nextID   int
}

var errMissingDatabase = errors.New("database handle is required")

// NewLocalStore constructs a LocalStore over an already-migrated database.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{
		db:       cfg.Database,
		clock:    clock,
		logger:   logger,
		watchers: make(map[string]map[int]chan struct{}),
	}, nil
}

func (s *LocalStore) List(ctx context.Context, collection string) ([]Document, error) {
	var rows []LocalRecord
	if err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("created_at_ms DESC").
		Order("record_id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	documents := make([]Document, 0, len(rows))
	for _, row := range rows {
		documents = append(documents, Document{
			ID:        row.RecordID,
			CreatedAt: row.CreatedAtMs,
			Payload:   json.RawMessage(row.PayloadJSON),
		})
	}
	SortDocuments(documents)
	return documents, nil
}

func (s *LocalStore) Upsert(ctx context.Context, collection string, document Document) error {
	now := s.clock().UTC().UnixMilli()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing LocalRecord
		err := tx.Where("collection = ? AND record_id = ?", collection, document.ID).Take(&existing).Error
		version := int64(1)
		if err == nil {
			version = existing.Version + 1
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Save(&LocalRecord{
			Collection:  collection,
			RecordID:    document.ID,
			CreatedAtMs: document.CreatedAt,
			UpdatedAtMs: now,
			Version:     version,
			PayloadJSON: string(document.Payload),
		}).Error
	})
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, collection, id string) error {
	result := s.db.WithContext(ctx).
		Where("collection = ? AND record_id = ?", collection, id).
		Delete(&LocalRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.notify(collection)
	return nil
}

func (s *LocalStore) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&LocalRecord{}).Where("collection = ?", collection).Count(&count).Error
	return count, err
}

func (s *LocalStore) LoadSingleton(ctx context.Context, key string) (json.RawMessage, error) {
	var row LocalSingleton
	err := s.db.WithContext(ctx).Where("singleton_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(row.PayloadJSON), nil
}

func (s *LocalStore) SaveSingleton(ctx context.Context, key string, payload json.RawMessage) error {
	return s.db.WithContext(ctx).Save(&LocalSingleton{
		Key:         key,
		PayloadJSON: string(payload),
		UpdatedAtMs: s.clock().UTC().UnixMilli(),
	}).Error
}

// Watch re-lists the collection after each local write. Writes only signal; the watcher
// goroutine does the reading, so a slow consumer never blocks a writer.
func (s *LocalStore) Watch(ctx context.Context, collection string) (<-chan Snapshot, error) {
	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[collection] == nil {
		s.watchers[collection] = make(map[int]chan struct{})
	}
	s.watchers[collection][id] = signal
	s.mu.Unlock()

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer s.unwatch(collection, id)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}
			documents, err := s.List(ctx, collection)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("local snapshot failed", zap.String("collection", collection), zap.Error(err))
				continue
			}
			select {
			case out <- Snapshot{Collection: collection, Documents: documents}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *LocalStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, signal := range s.watchers[collection] {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
}

func (s *LocalStore) unwatch(collection string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[collection], id)
	if len(s.watchers[collection]) == 0 {
		delete(s.watchers, collection)
	}
}
