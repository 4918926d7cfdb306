package settings

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStoreRoundTripsJSON(t *testing.T) {
	store := openTestStore(t)

	type record struct {
		Name string `json:"name"`
	}
	if err := store.PutJSON(KeySiteIdentity, record{Name: "Ada"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	var loaded record
	if err := store.GetJSON(KeySiteIdentity, &loaded); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Name != "Ada" {
		t.Fatalf("unexpected value %+v", loaded)
	}
}

func TestStoreReportsMissingKey(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetString(KeyBlobAccessToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReportsMalformedJSON(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutString(KeyAdminCredentials, "{not json"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	var dest map[string]any
	if err := store.GetJSON(KeyAdminCredentials, &dest); !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.PutString(KeyBlobAccessToken, "token-1"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	value, err := reopened.GetString(KeyBlobAccessToken)
	if err != nil || value != "token-1" {
		t.Fatalf("expected persisted token, got %q (%v)", value, err)
	}

	if err := reopened.Delete(KeyBlobAccessToken); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := reopened.GetString(KeyBlobAccessToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key removed, got %v", err)
	}
}
