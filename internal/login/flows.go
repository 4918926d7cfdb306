package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisFlowKeyPrefix = "folio:login_flow:"

// ErrFlowNotFound indicates the flow expired or never existed.
var ErrFlowNotFound = errors.New("login: flow not found")

// FlowStore keeps in-progress flows between HTTP requests.
type FlowStore interface {
	Save(ctx context.Context, flow Flow, ttl time.Duration) error
	Load(ctx context.Context, id string) (Flow, error)
	Delete(ctx context.Context, id string) error
}

// MemoryFlowStore is a process-local FlowStore.
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]memoryFlow
	clock func() time.Time
}

type memoryFlow struct {
	flow      Flow
	expiresAt time.Time
}

// NewMemoryFlowStore constructs an empty store. A nil clock defaults to time.Now.
func NewMemoryFlowStore(clock func() time.Time) *MemoryFlowStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryFlowStore{flows: make(map[string]memoryFlow), clock: clock}
}

func (s *MemoryFlowStore) Save(_ context.Context, flow Flow, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for id, entry := range s.flows {
		if !now.Before(entry.expiresAt) {
			delete(s.flows, id)
		}
	}
	s.flows[flow.ID] = memoryFlow{flow: flow, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryFlowStore) Load(_ context.Context, id string) (Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.flows[id]
	if !ok {
		return Flow{}, ErrFlowNotFound
	}
	if !s.clock().Before(entry.expiresAt) {
		delete(s.flows, id)
		return Flow{}, ErrFlowNotFound
	}
	return entry.flow, nil
}

func (s *MemoryFlowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
	return nil
}

// RedisFlowStore shares flows across instances through redis keys with a TTL.
type RedisFlowStore struct {
	client *redis.Client
}

// NewRedisFlowStore wraps an existing client.
func NewRedisFlowStore(client *redis.Client) *RedisFlowStore {
	return &RedisFlowStore{client: client}
}

func (s *RedisFlowStore) Save(ctx context.Context, flow Flow, ttl time.Duration) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("login: encode flow: %w", err)
	}
	return s.client.Set(ctx, redisFlowKeyPrefix+flow.ID, payload, ttl).Err()
}

func (s *RedisFlowStore) Load(ctx context.Context, id string) (Flow, error) {
	payload, err := s.client.Get(ctx, redisFlowKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Flow{}, ErrFlowNotFound
	}
	if err != nil {
		return Flow{}, err
	}
	var flow Flow
	if err := json.Unmarshal(payload, &flow); err != nil {
		return Flow{}, fmt.Errorf("login: decode flow: %w", err)
	}
	return flow, nil
}

func (s *RedisFlowStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisFlowKeyPrefix+id).Err()
}
