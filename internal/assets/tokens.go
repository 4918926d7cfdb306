package assets

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"go.uber.org/zap"
)

// DefaultAccessToken is the last-resort upload token. It is empty unless set at link time
// with -ldflags "-X github.com/MarcoPoloResearchLab/folio/internal/assets.DefaultAccessToken=...".
var DefaultAccessToken = ""

// TokenSource yields an upload access token when one is configured.
type TokenSource interface {
	AccessToken() (string, bool)
}

// StaticToken is a fixed token, typically the deployment-level secret.
type StaticToken string

func (t StaticToken) AccessToken() (string, bool) {
	token := strings.TrimSpace(string(t))
	return token, token != ""
}

// SettingsToken reads the admin-supplied token from the persisted settings on every call,
// so changes take effect without a restart.
type SettingsToken struct {
	Store  *settings.Store
	Logger *zap.Logger
}

func (s SettingsToken) AccessToken() (string, bool) {
	if s.Store == nil {
		return "", false
	}
	token, err := s.Store.GetString(settings.KeyBlobAccessToken)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) && s.Logger != nil {
			s.Logger.Warn("failed to read blob access token from settings", zap.Error(err))
		}
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ResolveToken returns the first token offered by sources, in order.
func ResolveToken(sources []TokenSource) (string, bool) {
	for _, source := range sources {
		if source == nil {
			continue
		}
		if token, ok := source.AccessToken(); ok {
			return token, true
		}
	}
	return "", false
}
