package totp

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	defaultPeriod     = 30
	defaultSkew       = 1
	defaultSecretSize = 20
	defaultQRSize     = 256
	generatorIssuer   = "folio"
	generatorAccount  = "admin"
)

// ErrInvalidSecret indicates the shared secret is not valid base32.
var ErrInvalidSecret = errors.New("totp: invalid secret")

// Config tunes the time-step algorithm. Zero values select RFC 6238 defaults
// (30 s period, 6 digits, SHA1) with one step of clock drift tolerated either way.
type Config struct {
	Period     uint
	Skew       uint
	SecretSize uint
}

// Engine generates and validates time-based one-time codes.
type Engine struct {
	opts       totp.ValidateOpts
	secretSize uint
}

// NewEngine constructs an Engine, filling zero fields with defaults.
func NewEngine(cfg Config) *Engine {
	period := cfg.Period
	if period == 0 {
		period = defaultPeriod
	}
	skew := cfg.Skew
	if skew == 0 {
		skew = defaultSkew
	}
	secretSize := cfg.SecretSize
	if secretSize == 0 {
		secretSize = defaultSecretSize
	}
	return &Engine{
		opts: totp.ValidateOpts{
			Period:    period,
			Skew:      skew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		secretSize: secretSize,
	}
}

// GenerateSecret returns a fresh random base32 secret.
func (e *Engine) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      generatorIssuer,
		AccountName: generatorAccount,
		Period:      e.opts.Period,
		SecretSize:  e.secretSize,
		Digits:      e.opts.Digits,
		Algorithm:   e.opts.Algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// CurrentCode returns the code for the time step containing at.
func (e *Engine) CurrentCode(secret string, at time.Time) (string, error) {
	if normalizeSecret(secret) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	code, err := totp.GenerateCodeCustom(normalizeSecret(secret), at, e.opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}

// Validate checks code against the steps around at. A wrong code yields false
// without error; only a malformed secret produces an error.
func (e *Engine) Validate(secret, code string, at time.Time) (bool, error) {
	secret = normalizeSecret(secret)
	if _, err := e.CurrentCode(secret, at); err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if len(code) != e.opts.Digits.Length() || !isDigits(code) {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, secret, at, e.opts)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// ProvisioningURI renders the otpauth URI authenticator apps scan to enrol secret.
func ProvisioningURI(issuer, username, secret string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(username)
	query := "secret=" + url.QueryEscape(normalizeSecret(secret)) + "&issuer=" + url.QueryEscape(issuer)
	return "otpauth://totp/" + label + "?" + query
}

// QRCode renders a provisioning URI as a PNG image of size x size pixels.
func QRCode(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultQRSize
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("totp: parse provisioning uri: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("totp: render qr code: %w", err)
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, fmt.Errorf("totp: encode png: %w", err)
	}
	return buffer.Bytes(), nil
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
