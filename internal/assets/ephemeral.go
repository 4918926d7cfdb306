package assets

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// EphemeralPathPrefix is the route prefix under which ephemeral objects are served.
	EphemeralPathPrefix  = "/assets/ephemeral/"
	defaultEphemeralSize = 64 << 20
)

// EphemeralObject is a session-only asset held in process memory.
type EphemeralObject struct {
	Data     []byte
	MimeType string
}

// EphemeralStore keeps fallback uploads in memory, evicting the oldest once MaxBytes is exceeded.
// Objects disappear when the process exits.
type EphemeralStore struct {
	baseURL  string
	maxBytes int

	mu      sync.RWMutex
	objects map[string]EphemeralObject
	order   []string
	size    int
}

// NewEphemeralStore serves objects under baseURL + EphemeralPathPrefix.
func NewEphemeralStore(baseURL string, maxBytes int) *EphemeralStore {
	if maxBytes <= 0 {
		maxBytes = defaultEphemeralSize
	}
	return &EphemeralStore{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		maxBytes: maxBytes,
		objects:  make(map[string]EphemeralObject),
	}
}

// Put stores a copy of data and returns its URL.
func (s *EphemeralStore) Put(data []byte, mimeType string) string {
	id := uuid.NewString()
	object := EphemeralObject{Data: append([]byte(nil), data...), MimeType: mimeType}

	s.mu.Lock()
	for len(s.order) > 0 && s.size+len(object.Data) > s.maxBytes {
		oldest := s.order[0]
		s.order = s.order[1:]
		s.size -= len(s.objects[oldest].Data)
		delete(s.objects, oldest)
	}
	s.objects[id] = object
	s.order = append(s.order, id)
	s.size += len(object.Data)
	s.mu.Unlock()

	return s.baseURL + EphemeralPathPrefix + id
}

// Get returns the object stored under id.
func (s *EphemeralStore) Get(id string) (EphemeralObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[id]
	return object, ok
}

// IsEphemeralURL reports whether rawURL references an ephemeral object on any host.
func IsEphemeralURL(rawURL string) bool {
	return strings.Contains(strings.TrimSpace(rawURL), EphemeralPathPrefix)
}
