package assets

import (
	"context"
	"errors"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultFolder        = "uploads"
	defaultUploadTimeout = 30 * time.Second
)

var errNoAccessToken = errors.New("assets: no access token configured")

// Result is the outcome of an upload. Ephemeral URLs are served from memory and do not
// survive a restart.
type Result struct {
	URL       string `json:"url"`
	Ephemeral bool   `json:"ephemeral"`
}

// GatewayConfig wires the gateway's token sources and uploaders.
type GatewayConfig struct {
	// Tokens are consulted in order; the first non-empty token wins.
	Tokens     []TokenSource
	Blob       Uploader
	Cloudinary Uploader
	Ephemeral  *EphemeralStore
	Timeout    time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Gateway uploads assets remotely and falls back to the ephemeral store on any failure.
type Gateway struct {
	tokens     []TokenSource
	blob       Uploader
	cloudinary Uploader
	ephemeral  *EphemeralStore
	timeout    time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewGateway constructs a Gateway. Missing collaborators fall back to package defaults.
func NewGateway(cfg GatewayConfig) *Gateway {
	blob := cfg.Blob
	if blob == nil {
		blob = &BlobUploader{}
	}
	cld := cfg.Cloudinary
	if cld == nil {
		cld = CloudinaryUploader{}
	}
	ephemeral := cfg.Ephemeral
	if ephemeral == nil {
		ephemeral = NewEphemeralStore("", 0)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		tokens:     cfg.Tokens,
		blob:       blob,
		cloudinary: cld,
		ephemeral:  ephemeral,
		timeout:    timeout,
		clock:      clock,
		logger:     logger,
	}
}

// Upload makes a single remote attempt and never fails: without a token, or when the remote
// call errors, the asset is kept in memory and an ephemeral URL is returned.
func (g *Gateway) Upload(ctx context.Context, data []byte, mimeType, folder string) Result {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = defaultFolder
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	token, ok := ResolveToken(g.tokens)
	if !ok {
		return g.fallback(data, mimeType, folder, errNoAccessToken)
	}

	object := Object{Data: data, MimeType: mimeType, Folder: folder, Name: g.objectName(mimeType)}
	uploader := g.blob
	if isCloudinaryToken(token) {
		uploader = g.cloudinary
	}

	uploadCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	remoteURL, err := uploader.Upload(uploadCtx, token, object)
	if err != nil {
		return g.fallback(data, mimeType, folder, err)
	}
	g.logger.Info("asset uploaded", zap.String("folder", folder), zap.Int("bytes", len(data)))
	return Result{URL: remoteURL}
}

// Ephemeral exposes the fallback store for serving.
func (g *Gateway) Ephemeral() *EphemeralStore {
	return g.ephemeral
}

func (g *Gateway) fallback(data []byte, mimeType, folder string, cause error) Result {
	g.logger.Warn("asset upload degraded to ephemeral storage",
		zap.String("folder", folder),
		zap.Int("bytes", len(data)),
		zap.Error(cause),
	)
	return Result{URL: g.ephemeral.Put(data, mimeType), Ephemeral: true}
}

func (g *Gateway) objectName(mimeType string) string {
	name := strconv.FormatInt(g.clock().UnixMilli(), 10) + "-" + uuid.NewString()
	if extensions, err := mime.ExtensionsByType(mimeType); err == nil && len(extensions) > 0 {
		name += extensions[0]
	}
	return name
}
