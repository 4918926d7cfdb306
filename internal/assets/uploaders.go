package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const (
	cloudinaryScheme      = "cloudinary://"
	maxBlobResponseBytes  = 64 << 10
	defaultBlobAPIBaseURL = "https://blob.vercel-storage.com"
)

var errEmptyUploadURL = errors.New("assets: upload response carried no url")

// Object is one binary asset headed for remote storage.
type Object struct {
	Data     []byte
	MimeType string
	Folder   string
	Name     string
}

// Uploader stores an object remotely and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, token string, object Object) (string, error)
}

// BlobUploader talks to a Vercel-Blob-style HTTP API: PUT <base>/<folder>/<name> with a bearer token.
type BlobUploader struct {
	BaseURL string
	Client  *http.Client
}

type blobResponse struct {
	URL string `json:"url"`
}

func (u *BlobUploader) Upload(ctx context.Context, token string, object Object) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if base == "" {
		base = defaultBlobAPIBaseURL
	}
	target := base + "/" + url.PathEscape(object.Folder) + "/" + url.PathEscape(object.Name)

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(object.Data))
	if err != nil {
		return "", fmt.Errorf("assets: build blob request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", object.MimeType)
	request.Header.Set("x-content-type", object.MimeType)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("assets: blob upload: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBlobResponseBytes))
	if err != nil {
		return "", fmt.Errorf("assets: read blob response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("assets: blob upload returned %d", response.StatusCode)
	}
	var parsed blobResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("assets: decode blob response: %w", err)
	}
	if strings.TrimSpace(parsed.URL) == "" {
		return "", errEmptyUploadURL
	}
	return parsed.URL, nil
}

// CloudinaryUploader uploads through cloudinary when the token is a cloudinary:// URL.
type CloudinaryUploader struct{}

func (CloudinaryUploader) Upload(ctx context.Context, token string, object Object) (string, error) {
	cld, err := cloudinary.NewFromURL(token)
	if err != nil {
		return "", fmt.Errorf("assets: initialize cloudinary: %w", err)
	}
	result, err := cld.Upload.Upload(ctx, bytes.NewReader(object.Data), uploader.UploadParams{
		Folder:       object.Folder,
		PublicID:     strings.TrimSuffix(object.Name, extensionOf(object.Name)),
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("assets: cloudinary upload: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("assets: cloudinary upload: %s", result.Error.Message)
	}
	if result.SecureURL == "" {
		return "", errEmptyUploadURL
	}
	return result.SecureURL, nil
}

func isCloudinaryToken(token string) bool {
	return strings.HasPrefix(token, cloudinaryScheme)
}

func extensionOf(name string) string {
	index := strings.LastIndex(name, ".")
	if index <= 0 {
		return ""
	}
	return name[index:]
}
