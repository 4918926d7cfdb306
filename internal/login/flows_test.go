package login

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisFlowStoreRoundTrip(t *testing.T) {
	url := os.Getenv("FOLIO_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FOLIO_TEST_REDIS_URL not set")
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(options)
	defer client.Close()

	store := NewRedisFlowStore(client)
	ctx := context.Background()
	flow := Flow{ID: "flow-redis-test", State: StateAwaitingTOTP, Username: "admin", CreatedAt: time.Now().UTC().Truncate(time.Second)}

	if err := store.Save(ctx, flow, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, flow.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.State != flow.State || loaded.Username != flow.Username || !loaded.CreatedAt.Equal(flow.CreatedAt) {
		t.Fatalf("unexpected flow %#v", loaded)
	}
	if err := store.Delete(ctx, flow.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, flow.ID); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}
