package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/assets"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"github.com/MarcoPoloResearchLab/folio/internal/database"
	"github.com/MarcoPoloResearchLab/folio/internal/login"
	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"github.com/MarcoPoloResearchLab/folio/internal/synctoken"
	"github.com/MarcoPoloResearchLab/folio/internal/totp"
	"github.com/gin-gonic/gin"
)

const (
	testAdminUsername = "admin"
	testAdminPassword = "ChangeMe1"
	testPublicBaseURL = "http://folio.test"
)

type testServer struct {
	handler     http.Handler
	credentials *credentials.Store
	settings    *settings.Store
	content     *content.Service
	totp        *totp.Engine
	tokens      *auth.TokenIssuer
	realtime    *RealtimeDispatcher
	now         time.Time
}

type testServerOptions struct {
	throttle  *login.Throttle
	heartbeat time.Duration
}

func newTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }

	settingsStore, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { _ = settingsStore.Close() })

	credentialStore, err := credentials.NewStore(credentials.StoreConfig{
		Settings:        settingsStore,
		DefaultUsername: testAdminUsername,
		DefaultPassword: testAdminPassword,
	})
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}

	engine := totp.NewEngine(totp.Config{})
	machine, err := login.NewMachine(login.MachineConfig{
		Credentials: credentialStore,
		Codes:       engine,
		DecodeToken: synctoken.Decode,
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	loginService, err := login.NewService(login.ServiceConfig{
		Machine: machine,
		Flows:   login.NewMemoryFlowStore(clock),
	})
	if err != nil {
		t.Fatalf("new login service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "folio-api",
		Audience:      "folio-admin",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}

	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "content.db"), nil)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	localStore, err := content.NewLocalStore(content.LocalStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	contentService, err := content.NewService(content.ServiceConfig{
		Local:       localStore,
		Settings:    settingsStore,
		IsEphemeral: assets.IsEphemeralURL,
	})
	if err != nil {
		t.Fatalf("new content service: %v", err)
	}

	gateway := assets.NewGateway(assets.GatewayConfig{
		Tokens:    []assets.TokenSource{assets.SettingsToken{Store: settingsStore}},
		Ephemeral: assets.NewEphemeralStore(testPublicBaseURL, 0),
	})

	dispatcher := NewRealtimeDispatcher()
	t.Cleanup(dispatcher.ConnectContent(contentService))

	handler, err := NewHTTPHandler(Dependencies{
		Login:             loginService,
		Throttle:          options.throttle,
		Tokens:            issuer,
		Credentials:       credentialStore,
		TOTP:              engine,
		TOTPIssuer:        "Folio",
		Content:           contentService,
		Assets:            gateway,
		Settings:          settingsStore,
		Realtime:          dispatcher,
		AllowedOrigins:    []string{"https://admin.example.com"},
		HeartbeatInterval: options.heartbeat,
		Clock:             clock,
	})
	if err != nil {
		t.Fatalf("new http handler: %v", err)
	}

	return &testServer{
		handler:     handler,
		credentials: credentialStore,
		settings:    settingsStore,
		content:     contentService,
		totp:        engine,
		tokens:      issuer,
		realtime:    dispatcher,
		now:         now,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := s.tokens.IssueAdminToken(context.Background(), testAdminUsername)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return token
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	decodeBody(t, recorder, &payload)
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}
