package credentials

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials indicates a record without a username or password.
	ErrInvalidCredentials = errors.New("credentials: username and password are required")

	errMissingSettings = errors.New("credentials: settings store is required")
)

// Credentials is the single administrator record. Password holds an Argon2id hash at rest.
// A nil TwoFactorSecret means two-factor authentication is disabled.
type Credentials struct {
	Username        string  `json:"username"`
	Password        string  `json:"password"`
	TwoFactorSecret *string `json:"twoFactorSecret"`
}

// TwoFactorEnabled reports whether a TOTP secret is configured.
func (c Credentials) TwoFactorEnabled() bool {
	return c.TwoFactorSecret != nil && strings.TrimSpace(*c.TwoFactorSecret) != ""
}

// Validate checks the fields required to authenticate and rejects malformed Argon2id hashes.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrInvalidCredentials
	}
	if strings.HasPrefix(c.Password, hashPrefix) && !IsHash(c.Password) {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, errInvalidHash)
	}
	return nil
}

// UsernameMatches compares usernames case-insensitively, ignoring surrounding whitespace.
func UsernameMatches(stored, submitted string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(submitted))
}

// StoreConfig describes the dependencies of the credential store.
type StoreConfig struct {
	Settings        *settings.Store
	DefaultUsername string
	DefaultPassword string
	Logger          *zap.Logger
}

// Store holds the administrator credentials, mirrored into the settings store on every change.
type Store struct {
	settings *settings.Store
	logger   *zap.Logger

	mu      sync.RWMutex
	current Credentials
}

// NewStore loads the persisted record, seeding it from the configured defaults on first boot.
// Plaintext passwords left by older deployments are hashed and flushed back.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Settings == nil {
		return nil, errMissingSettings
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{settings: cfg.Settings, logger: logger}

	var stored Credentials
	err := cfg.Settings.GetJSON(settings.KeyAdminCredentials, &stored)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		seed := Credentials{Username: cfg.DefaultUsername, Password: cfg.DefaultPassword}
		if err := store.Replace(seed); err != nil {
			return nil, err
		}
		logger.Info("admin credentials seeded", zap.String("username", seed.Username))
		return store, nil
	case err != nil:
		return nil, err
	}

	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("credentials: stored record: %w", err)
	}
	if !IsHash(stored.Password) {
		logger.Warn("hashing plaintext admin password found in settings")
		if err := store.Replace(stored); err != nil {
			return nil, err
		}
		return store, nil
	}
	store.current = normalize(stored)
	return store, nil
}

// Current returns a copy of the active record.
func (s *Store) Current() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Verify checks a username/password pair and returns the active record when it matches.
func (s *Store) Verify(username, password string) (Credentials, bool) {
	current := s.Current()
	if !UsernameMatches(current.Username, username) {
		return Credentials{}, false
	}
	ok, err := VerifyPassword(password, current.Password)
	if err != nil {
		s.logger.Error("stored password hash unreadable", zap.Error(err))
		return Credentials{}, false
	}
	if !ok {
		return Credentials{}, false
	}
	return current, true
}

// Replace overwrites the record. A password that is not already an Argon2id hash is hashed first.
func (s *Store) Replace(next Credentials) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next = normalize(next)
	if !IsHash(next.Password) {
		hashed, err := HashPassword(next.Password)
		if err != nil {
			return fmt.Errorf("credentials: hash password: %w", err)
		}
		next.Password = hashed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settings.PutJSON(settings.KeyAdminCredentials, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// UpdateLogin replaces username and password, keeping the two-factor secret.
func (s *Store) UpdateLogin(username, password string) error {
	next := s.Current()
	next.Username = username
	next.Password = password
	return s.Replace(next)
}

// SetTwoFactorSecret enables (non-nil) or disables (nil) two-factor authentication.
func (s *Store) SetTwoFactorSecret(secret *string) error {
	next := s.Current()
	next.TwoFactorSecret = secret
	return s.Replace(next)
}

func normalize(c Credentials) Credentials {
	c.Username = strings.TrimSpace(c.Username)
	if c.TwoFactorSecret != nil {
		trimmed := strings.ToUpper(strings.TrimSpace(*c.TwoFactorSecret))
		if trimmed == "" {
			c.TwoFactorSecret = nil
		} else {
			c.TwoFactorSecret = &trimmed
		}
	}
	return c
}

func clone(c Credentials) Credentials {
	if c.TwoFactorSecret != nil {
		secret := *c.TwoFactorSecret
		c.TwoFactorSecret = &secret
	}
	return c
}
