// Package synctoken converts the administrator credentials to and from a portable string
// that lets a new device sign in by pasting it.
package synctoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
)

// ErrDecode indicates the token is not a valid encoded credential record.
var ErrDecode = errors.New("synctoken: malformed token")

// Encode serializes c as base64 (standard alphabet, padded) of its JSON form.
func Encode(c credentials.Credentials) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("synctoken: encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode recovers the credential record from token. Surrounding whitespace, missing
// padding and the URL-safe alphabet are tolerated since tokens are pasted by hand.
func Decode(token string) (credentials.Credentials, error) {
	raw, err := decodeBase64(strings.TrimSpace(token))
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var decoded credentials.Credentials
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return credentials.Credentials{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := decoded.Validate(); err != nil {
		return credentials.Credentials{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return decoded, nil
}

func decodeBase64(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, encoding := range encodings {
		raw, err := encoding.DecodeString(token)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
