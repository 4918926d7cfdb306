package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"go.uber.org/zap"
)

// Source names where a collection view came from.
type Source string

const (
	SourceSeed   Source = "seed"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// CollectionIdentity is the pseudo-collection used to announce identity changes.
const CollectionIdentity = "identity"

const (
	identityKey          = "identity"
	defaultRemoteTimeout = 10 * time.Second
	defaultRetryInterval = 2 * time.Second
	maxRetryInterval     = time.Minute
	maxVisitPathLength   = 512
)

const (
	opServiceNew   = "content.service.new"
	opUpsert       = "content.upsert"
	opDelete       = "content.delete"
	opSaveIdentity = "content.save_identity"
	opRecordVisit  = "content.record_visit"
	opVisitCount   = "content.visit_count"
)

var (
	errMissingLocalStore = errors.New("local store is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// View is the in-memory state of one collection as shown to clients.
type View struct {
	Collection string
	Source     Source
	Documents  []Document
}

// WriteResult reports the outcome of a write. Degraded means the remote store rejected it
// and only the local mirror holds the change.
type WriteResult struct {
	ID       string `json:"id"`
	Degraded bool   `json:"degraded"`
}

type ServiceConfig struct {
	Local Store
	// Remote is optional; when set it is the authoritative source of snapshots.
	Remote        Store
	Settings      *settings.Store
	IsEphemeral   func(string) bool
	RemoteTimeout time.Duration
	// RetryInterval is the first delay before a failed subscription is retried. It doubles
	// up to a minute.
	RetryInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service is the content sync layer: it writes through to the stores, keeps a per-collection
// view replaced wholesale by each snapshot, and fans changes out to listeners.
type Service struct {
	local         Store
	remote        Store
	settings      *settings.Store
	isEphemeral   func(string) bool
	remoteTimeout time.Duration
	retryInterval time.Duration
	clock         func() time.Time
	logger        *zap.Logger

	mu        sync.RWMutex
	views     map[string]View
	identity  SiteIdentity
	listeners map[string]map[int]func(View)
	nextID    int

	stampMu   sync.Mutex
	lastStamp int64
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Local == nil {
		return nil, newServiceError(opServiceNew, "missing_local_store", errMissingLocalStore)
	}
	isEphemeral := cfg.IsEphemeral
	if isEphemeral == nil {
		isEphemeral = func(string) bool { return false }
	}
	timeout := cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	service := &Service{
		local:         cfg.Local,
		remote:        cfg.Remote,
		settings:      cfg.Settings,
		isEphemeral:   isEphemeral,
		remoteTimeout: timeout,
		retryInterval: retry,
		clock:         clock,
		logger:        logger,
		views:         make(map[string]View),
		identity:      DefaultIdentity(),
		listeners:     make(map[string]map[int]func(View)),
	}
	for _, collection := range EditableCollections() {
		service.views[collection] = View{Collection: collection, Source: SourceSeed, Documents: SeedDocuments(collection)}
	}
	if cached, ok := service.cachedIdentity(); ok {
		service.identity = cached
	}
	return service, nil
}

// Start loads the local mirror, then subscribes to the authoritative store for every editable
// collection in the background. Subscriptions end with ctx. A failed or dropped subscription is
// retried with backoff while local or seed data stays in place.
func (s *Service) Start(ctx context.Context) {
	for _, collection := range EditableCollections() {
		documents, err := s.local.List(ctx, collection)
		if err != nil {
			s.logger.Warn("local mirror unavailable", zap.String("collection", collection), zap.Error(err))
		} else {
			s.applySnapshot(collection, documents, SourceLocal)
		}
	}
	s.loadIdentity(ctx)

	authoritative, source := s.authoritative()
	for _, collection := range EditableCollections() {
		go s.follow(ctx, authoritative, source, collection)
	}
}

// follow keeps one collection subscribed until ctx ends.
func (s *Service) follow(ctx context.Context, store Store, source Source, collection string) {
	delay := s.retryInterval
	for {
		snapshots, err := store.Watch(ctx, collection)
		if err == nil {
			delay = s.retryInterval
			for snapshot := range snapshots {
				s.applySnapshot(collection, snapshot.Documents, source)
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("content subscription ended, resubscribing",
				zap.String("collection", collection),
				zap.String("source", string(source)),
			)
		} else {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("content subscription failed",
				zap.String("collection", collection),
				zap.String("source", string(source)),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err != nil {
			delay *= 2
			if delay > maxRetryInterval {
				delay = maxRetryInterval
			}
		}
	}
}

// List returns the current view of collection.
func (s *Service) List(collection string) (View, error) {
	if !IsEditable(collection) {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyView(s.views[collection]), nil
}

// OnChange registers callback for every view change of collection. The returned function
// unregisters it.
func (s *Service) OnChange(collection string, callback func(View)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.listeners[collection] == nil {
		s.listeners[collection] = make(map[int]func(View))
	}
	s.listeners[collection][id] = callback
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[collection], id)
			s.mu.Unlock()
		})
	}
}

// NextStamp issues a creation stamp whose id is the unix-millisecond timestamp, bumped so
// that ids never repeat within the process.
func (s *Service) NextStamp() Stamp {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	now := s.clock().UTC().UnixMilli()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return Stamp{ID: strconv.FormatInt(now, 10), CreatedAt: now}
}

// Upsert writes record to the local mirror and, when configured, the remote store.
func (s *Service) Upsert(ctx context.Context, record Record) (WriteResult, error) {
	collection := record.Collection()
	if !IsEditable(collection) {
		return WriteResult{}, newServiceError(opUpsert, "unknown_collection", ErrUnknownCollection)
	}
	if err := s.rejectEphemeral(record.AssetURLs()); err != nil {
		return WriteResult{}, newServiceError(opUpsert, "ephemeral_asset", err)
	}
	document, err := NewDocument(record)
	if err != nil {
		return WriteResult{}, newServiceError(opUpsert, "encode_failed", err)
	}

	if err := s.local.Upsert(ctx, collection, document); err != nil {
		s.logError(opUpsert, "local_write_failed", err, zap.String("collection", collection), zap.String("id", document.ID))
		return WriteResult{}, newServiceError(opUpsert, "local_write_failed", err)
	}
	degraded := s.writeRemote(ctx, opUpsert, collection, document.ID, func(remoteCtx context.Context) error {
		return s.remote.Upsert(remoteCtx, collection, document)
	})

	s.applyLocalChange(collection, func(documents []Document) []Document {
		filtered := documents[:0]
		for _, existing := range documents {
			if existing.ID != document.ID {
				filtered = append(filtered, existing)
			}
		}
		return append(filtered, document)
	})
	return WriteResult{ID: document.ID, Degraded: degraded}, nil
}

// Delete removes id from collection in every configured store.
func (s *Service) Delete(ctx context.Context, collection, id string) (WriteResult, error) {
	if !IsEditable(collection) {
		return WriteResult{}, newServiceError(opDelete, "unknown_collection", ErrUnknownCollection)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return WriteResult{}, newServiceError(opDelete, "missing_id", ErrInvalidRecord)
	}

	localErr := s.local.Delete(ctx, collection, id)
	if localErr != nil && !errors.Is(localErr, ErrNotFound) {
		s.logError(opDelete, "local_delete_failed", localErr, zap.String("collection", collection), zap.String("id", id))
		return WriteResult{}, newServiceError(opDelete, "local_delete_failed", localErr)
	}
	remoteMissing := false
	degraded := s.writeRemote(ctx, opDelete, collection, id, func(remoteCtx context.Context) error {
		err := s.remote.Delete(remoteCtx, collection, id)
		if errors.Is(err, ErrNotFound) {
			remoteMissing = true
			return nil
		}
		return err
	})
	if errors.Is(localErr, ErrNotFound) && (s.remote == nil || remoteMissing) {
		return WriteResult{}, newServiceError(opDelete, "not_found", ErrNotFound)
	}

	s.applyLocalChange(collection, func(documents []Document) []Document {
		filtered := documents[:0]
		for _, existing := range documents {
			if existing.ID != id {
				filtered = append(filtered, existing)
			}
		}
		return filtered
	})
	return WriteResult{ID: id, Degraded: degraded}, nil
}

// Identity returns the last known site identity.
func (s *Service) Identity() SiteIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIdentity(s.identity)
}

// SaveIdentity validates and persists identity, caching it in settings.
func (s *Service) SaveIdentity(ctx context.Context, identity SiteIdentity) (WriteResult, error) {
	if err := identity.Validate(); err != nil {
		return WriteResult{}, newServiceError(opSaveIdentity, "invalid_identity", err)
	}
	if err := s.rejectEphemeral(identity.AssetURLs()); err != nil {
		return WriteResult{}, newServiceError(opSaveIdentity, "ephemeral_asset", err)
	}
	if identity.Socials == nil {
		identity.Socials = map[string]string{}
	}
	payload, err := json.Marshal(identity)
	if err != nil {
		return WriteResult{}, newServiceError(opSaveIdentity, "encode_failed", err)
	}

	if err := s.local.SaveSingleton(ctx, identityKey, payload); err != nil {
		s.logError(opSaveIdentity, "local_write_failed", err)
		return WriteResult{}, newServiceError(opSaveIdentity, "local_write_failed", err)
	}
	degraded := s.writeRemote(ctx, opSaveIdentity, CollectionIdentity, identityKey, func(remoteCtx context.Context) error {
		return s.remote.SaveSingleton(remoteCtx, identityKey, payload)
	})
	s.setIdentity(identity)
	return WriteResult{ID: identityKey, Degraded: degraded}, nil
}

// RecordVisit appends a page view.
func (s *Service) RecordVisit(ctx context.Context, path, referrer string) (Visit, error) {
	path = strings.TrimSpace(path)
	if path == "" || len(path) > maxVisitPathLength {
		return Visit{}, newServiceError(opRecordVisit, "invalid_path", ErrInvalidRecord)
	}
	stamp := s.NextStamp()
	visit := Visit{ID: stamp.ID, Path: path, Referrer: strings.TrimSpace(referrer), CreatedAt: stamp.CreatedAt}
	document, err := NewDocument(visit)
	if err != nil {
		return Visit{}, newServiceError(opRecordVisit, "encode_failed", err)
	}
	if err := s.local.Upsert(ctx, CollectionVisits, document); err != nil {
		s.logError(opRecordVisit, "local_write_failed", err)
		return Visit{}, newServiceError(opRecordVisit, "local_write_failed", err)
	}
	s.writeRemote(ctx, opRecordVisit, CollectionVisits, visit.ID, func(remoteCtx context.Context) error {
		return s.remote.Upsert(remoteCtx, CollectionVisits, document)
	})
	return visit, nil
}

// VisitCount counts visits in the authoritative store, falling back to the local mirror.
func (s *Service) VisitCount(ctx context.Context) (int64, error) {
	if s.remote != nil {
		remoteCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
		count, err := s.remote.Count(remoteCtx, CollectionVisits)
		cancel()
		if err == nil {
			return count, nil
		}
		s.logger.Warn("remote visit count failed, using local mirror", zap.Error(err))
	}
	count, err := s.local.Count(ctx, CollectionVisits)
	if err != nil {
		s.logError(opVisitCount, "query_failed", err)
		return 0, newServiceError(opVisitCount, "query_failed", err)
	}
	return count, nil
}

func (s *Service) authoritative() (Store, Source) {
	if s.remote != nil {
		return s.remote, SourceRemote
	}
	return s.local, SourceLocal
}

// writeRemote runs write against the remote store under the remote timeout and reports
// whether the write degraded to local-only.
func (s *Service) writeRemote(ctx context.Context, operation, collection, id string, write func(context.Context) error) bool {
	if s.remote == nil {
		return false
	}
	remoteCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := write(remoteCtx); err != nil {
		s.logger.Warn("remote write failed, kept local copy",
			zap.String("operation", operation),
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}
	return false
}

func (s *Service) rejectEphemeral(urls []string) error {
	for _, candidate := range urls {
		if candidate != "" && s.isEphemeral(candidate) {
			return fmt.Errorf("%w: %s", ErrEphemeralAsset, candidate)
		}
	}
	return nil
}

// applySnapshot replaces the view of collection wholesale. An empty snapshot shows seed data.
func (s *Service) applySnapshot(collection string, documents []Document, source Source) {
	s.mu.Lock()
	view := s.storeViewLocked(collection, documents, source)
	callbacks := s.callbacksLocked(collection)
	s.mu.Unlock()
	notify(callbacks, view)
}

// applyLocalChange shows a write before the authoritative snapshot confirms it. The read and
// the replacement happen under one lock so concurrent writes never drop each other.
func (s *Service) applyLocalChange(collection string, change func([]Document) []Document) {
	s.mu.Lock()
	current := copyView(s.views[collection])
	documents := current.Documents
	source := current.Source
	if source == SourceSeed {
		documents = nil
		_, source = s.authoritative()
	}
	view := s.storeViewLocked(collection, change(documents), source)
	callbacks := s.callbacksLocked(collection)
	s.mu.Unlock()
	notify(callbacks, view)
}

func (s *Service) publish(collection string, view View) {
	s.mu.Lock()
	s.views[collection] = view
	callbacks := s.callbacksLocked(collection)
	s.mu.Unlock()
	notify(callbacks, view)
}

func (s *Service) storeViewLocked(collection string, documents []Document, source Source) View {
	view := View{Collection: collection, Source: source, Documents: append([]Document(nil), documents...)}
	if len(view.Documents) == 0 {
		view = View{Collection: collection, Source: SourceSeed, Documents: SeedDocuments(collection)}
	}
	SortDocuments(view.Documents)
	s.views[collection] = view
	return view
}

func (s *Service) callbacksLocked(collection string) []func(View) {
	callbacks := make([]func(View), 0, len(s.listeners[collection]))
	for _, callback := range s.listeners[collection] {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}

func notify(callbacks []func(View), view View) {
	for _, callback := range callbacks {
		callback(copyView(view))
	}
}

func (s *Service) loadIdentity(ctx context.Context) {
	authoritative, source := s.authoritative()
	loadCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	payload, err := authoritative.LoadSingleton(loadCtx, identityKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("identity unavailable, using cached copy", zap.String("source", string(source)), zap.Error(err))
		}
		return
	}
	var identity SiteIdentity
	if err := json.Unmarshal(payload, &identity); err != nil {
		s.logger.Warn("stored identity malformed", zap.String("source", string(source)), zap.Error(err))
		return
	}
	s.setIdentity(identity)
}

func (s *Service) setIdentity(identity SiteIdentity) {
	identity = copyIdentity(identity)
	if s.settings != nil {
		if err := s.settings.PutJSON(settings.KeySiteIdentity, identity); err != nil {
			s.logger.Warn("failed to cache identity in settings", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()

	payload, err := json.Marshal(identity)
	if err != nil {
		return
	}
	s.publish(CollectionIdentity, View{
		Collection: CollectionIdentity,
		Source:     SourceLocal,
		Documents:  []Document{{ID: identityKey, Payload: payload}},
	})
}

func (s *Service) cachedIdentity() (SiteIdentity, bool) {
	if s.settings == nil {
		return SiteIdentity{}, false
	}
	var identity SiteIdentity
	if err := s.settings.GetJSON(settings.KeySiteIdentity, &identity); err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			s.logger.Warn("cached identity unreadable", zap.Error(err))
		}
		return SiteIdentity{}, false
	}
	return identity, true
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}

func copyView(view View) View {
	view.Documents = append([]Document(nil), view.Documents...)
	return view
}

func copyIdentity(identity SiteIdentity) SiteIdentity {
	socials := make(map[string]string, len(identity.Socials))
	for key, value := range identity.Socials {
		socials[key] = value
	}
	identity.Socials = socials
	return identity
}
