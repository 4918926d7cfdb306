package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltLength   = 16
	keyLength    = 32
	timeCost     = 3
	memoryCost   = 64 * 1024
	parallelism  = 2
	hashPrefix   = "$argon2id$"
	hashTemplate = "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"

	// Bounds accepted for stored hashes. Anything outside them could panic argon2 or
	// exhaust memory on the next login.
	minMemoryCost = 8 * 1024
	maxMemoryCost = 256 * 1024
	maxTimeCost   = 16
	minSaltLength = 8
	maxSaltLength = 64
	minKeyLength  = 16
	maxKeyLength  = 64
)

var errInvalidHash = errors.New("credentials: invalid password hash")

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, timeCost, memoryCost, parallelism, keyLength)
	return fmt.Sprintf(hashTemplate,
		argon2.Version, memoryCost, timeCost, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// IsHash reports whether value looks like an encoded Argon2id hash.
func IsHash(value string) bool {
	_, _, _, err := parseHash(value)
	return err == nil
}

// VerifyPassword checks password against an encoded Argon2id hash.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, expected, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

type hashParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func parseHash(encoded string) (hashParams, []byte, []byte, error) {
	if !strings.HasPrefix(encoded, hashPrefix) {
		return hashParams{}, nil, nil, errInvalidHash
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return hashParams{}, nil, nil, errInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return hashParams{}, nil, nil, errInvalidHash
	}
	var params hashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return hashParams{}, nil, nil, errInvalidHash
	}
	if params.memory < minMemoryCost || params.memory > maxMemoryCost ||
		params.time < 1 || params.time > maxTimeCost || params.threads < 1 {
		return hashParams{}, nil, nil, errInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength || len(salt) > maxSaltLength {
		return hashParams{}, nil, nil, errInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) < minKeyLength || len(hash) > maxKeyLength {
		return hashParams{}, nil, nil, errInvalidHash
	}
	return params, salt, hash, nil
}
