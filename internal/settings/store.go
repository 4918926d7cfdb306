package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Well-known settings keys.
const (
	KeyAdminCredentials = "admin_credentials"
	KeySiteIdentity     = "site_identity"
	KeyBlobAccessToken  = "blob_access_token"
)

var (
	// ErrNotFound indicates the key has never been written.
	ErrNotFound = errors.New("settings: key not found")
	// ErrMalformedValue indicates the stored value could not be decoded.
	ErrMalformedValue = errors.New("settings: malformed value")

	errMissingPath = errors.New("settings: path is required")
	errClosed      = errors.New("settings: store closed")
	bucketSettings = []byte("settings")
)

// Store is the persisted key/value settings store backing the admin console.
// Every mutation is flushed to disk before returning.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the settings file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingPath
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketSettings)
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settings: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString returns the raw string stored at key.
func (s *Store) GetString(key string) (string, error) {
	raw, err := s.get(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PutString stores value at key.
func (s *Store) PutString(key, value string) error {
	return s.put(key, []byte(value))
}

// GetJSON decodes the JSON value stored at key into dest.
func (s *Store) GetJSON(key string, dest any) error {
	raw, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedValue, key, err)
	}
	return nil
}

// PutJSON encodes value as JSON and stores it at key.
func (s *Store) PutJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return s.put(key, raw)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return errClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Delete([]byte(key))
	})
}

func (s *Store) get(key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, errClosed
	}
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		stored := tx.Bucket(bucketSettings).Get([]byte(key))
		if stored == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) put(key string, value []byte) error {
	if s == nil || s.db == nil {
		return errClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), value)
	})
}
