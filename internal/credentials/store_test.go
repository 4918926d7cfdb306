package credentials

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/folio/internal/settings"
)

func openSettings(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestNewStoreSeedsHashedDefaults(t *testing.T) {
	settingsStore := openSettings(t)
	store, err := NewStore(StoreConfig{Settings: settingsStore, DefaultUsername: "admin", DefaultPassword: "Secret1"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	current := store.Current()
	if current.Username != "admin" {
		t.Fatalf("unexpected username %q", current.Username)
	}
	if current.Password == "Secret1" || !IsHash(current.Password) {
		t.Fatalf("expected password to be hashed at rest, got %q", current.Password)
	}
	if current.TwoFactorEnabled() {
		t.Fatalf("two-factor should be disabled by default")
	}

	var persisted Credentials
	if err := settingsStore.GetJSON(settings.KeyAdminCredentials, &persisted); err != nil {
		t.Fatalf("expected persisted credentials: %v", err)
	}
	if persisted.Password != current.Password {
		t.Fatalf("persisted record diverges from memory")
	}
}

func TestStoreVerifyIsCaseInsensitiveOnUsername(t *testing.T) {
	store, err := NewStore(StoreConfig{Settings: openSettings(t), DefaultUsername: "admin", DefaultPassword: "Secret1"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	if _, ok := store.Verify("Admin", "Secret1"); !ok {
		t.Fatalf("expected case-different username to match")
	}
	if _, ok := store.Verify("admin", "secret1"); ok {
		t.Fatalf("password comparison must be case sensitive")
	}
	if _, ok := store.Verify("root", "Secret1"); ok {
		t.Fatalf("unexpected match for other username")
	}
}

func TestNewStoreHashesLegacyPlaintext(t *testing.T) {
	settingsStore := openSettings(t)
	if err := settingsStore.PutJSON(settings.KeyAdminCredentials, Credentials{Username: "owner", Password: "plain"}); err != nil {
		t.Fatalf("failed to seed legacy record: %v", err)
	}

	store, err := NewStore(StoreConfig{Settings: settingsStore, DefaultUsername: "admin", DefaultPassword: "admin"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if !IsHash(store.Current().Password) {
		t.Fatalf("expected legacy password to be hashed")
	}
	if _, ok := store.Verify("owner", "plain"); !ok {
		t.Fatalf("expected legacy password to keep working")
	}
}

func TestSetTwoFactorSecretNormalizesEmptyToDisabled(t *testing.T) {
	store, err := NewStore(StoreConfig{Settings: openSettings(t), DefaultUsername: "admin", DefaultPassword: "admin"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	secret := " jbswy3dpehpk3pxp "
	if err := store.SetTwoFactorSecret(&secret); err != nil {
		t.Fatalf("failed to set secret: %v", err)
	}
	current := store.Current()
	if !current.TwoFactorEnabled() || *current.TwoFactorSecret != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected secret %v", current.TwoFactorSecret)
	}

	empty := "  "
	if err := store.SetTwoFactorSecret(&empty); err != nil {
		t.Fatalf("failed to clear secret: %v", err)
	}
	if store.Current().TwoFactorSecret != nil {
		t.Fatalf("expected blank secret to disable two-factor")
	}
}

func TestUpdateLoginRejectsEmptyPassword(t *testing.T) {
	store, err := NewStore(StoreConfig{Settings: openSettings(t), DefaultUsername: "admin", DefaultPassword: "admin"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := store.UpdateLogin("admin", ""); err == nil {
		t.Fatalf("expected empty password to be rejected")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if _, err := VerifyPassword("x", "$argon2id$garbage"); err == nil {
		t.Fatalf("expected malformed hash error")
	}
}

func TestReplaceRejectsHashesWithUnsafeParameters(t *testing.T) {
	store, err := NewStore(StoreConfig{Settings: openSettings(t), DefaultUsername: "admin", DefaultPassword: "admin"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	salt := base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef"))
	key := base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	for _, params := range []string{"m=65536,t=3,p=0", "m=65536,t=0,p=2", "m=4294967295,t=3,p=2", "m=65536,t=4294967295,p=2"} {
		encoded := "$argon2id$v=19$" + params + "$" + salt + "$" + key
		if IsHash(encoded) {
			t.Fatalf("expected %s to be refused as a hash", params)
		}
		if err := store.Replace(Credentials{Username: "admin", Password: encoded}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %s, got %v", params, err)
		}
		if _, err := VerifyPassword("anything", encoded); err == nil {
			t.Fatalf("expected verify to refuse %s", params)
		}
	}
	if _, ok := store.Verify("admin", "admin"); !ok {
		t.Fatalf("expected the original credentials to survive rejected replacements")
	}

	short := "$argon2id$v=19$m=65536,t=3,p=2$" + base64.RawStdEncoding.EncodeToString([]byte("salt")) + "$" + key
	if IsHash(short) {
		t.Fatalf("expected short salt to be refused")
	}
}
