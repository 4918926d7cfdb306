package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/assets"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"github.com/MarcoPoloResearchLab/folio/internal/login"
	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"github.com/MarcoPoloResearchLab/folio/internal/totp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	adminSubjectContextKey   = "folio_admin_subject"
	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxUploadBytes    = 25 << 20
)

var (
	errMissingLoginService  = errors.New("login service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingCredentials   = errors.New("credential store dependency required")
	errMissingContent       = errors.New("content service dependency required")
	errMissingAssets        = errors.New("asset gateway dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type LoginService interface {
	StartWithCredentials(ctx context.Context, username, password string) (login.Flow, error)
	ContinueWithCode(ctx context.Context, flowID, code string) (login.Flow, error)
	LoginWithSyncToken(ctx context.Context, token string) (login.Flow, error)
}

type AdminTokenManager interface {
	IssueAdminToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type CredentialManager interface {
	Current() credentials.Credentials
	UpdateLogin(username, password string) error
	SetTwoFactorSecret(secret *string) error
}

type Dependencies struct {
	Login             LoginService
	Throttle          *login.Throttle
	Tokens            AdminTokenManager
	Credentials       CredentialManager
	TOTP              *totp.Engine
	TOTPIssuer        string
	Content           *content.Service
	Assets            *assets.Gateway
	Settings          *settings.Store
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	MaxUploadBytes    int64
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Login == nil {
		return nil, errMissingLoginService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Content == nil {
		return nil, errMissingContent
	}
	if deps.Assets == nil {
		return nil, errMissingAssets
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := deps.TOTP
	if engine == nil {
		engine = totp.NewEngine(totp.Config{})
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		login:       deps.Login,
		throttle:    deps.Throttle,
		tokens:      deps.Tokens,
		credentials: deps.Credentials,
		totp:        engine,
		totpIssuer:  deps.TOTPIssuer,
		content:     deps.Content,
		assets:      deps.Assets,
		settings:    deps.Settings,
		realtime:    realtime,
		heartbeat:   heartbeat,
		maxUpload:   maxUpload,
		clock:       clock,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/content/:collection", handler.handleListContent)
	router.GET("/identity", handler.handleGetIdentity)
	router.GET("/stream/content", handler.handleContentStream)
	router.POST("/visits", handler.handleRecordVisit)
	router.GET(assets.EphemeralPathPrefix+":id", handler.handleEphemeralAsset)

	loginGroup := router.Group("/admin/login")
	loginGroup.Use(handler.throttleLogin)
	loginGroup.POST("/credentials", handler.handleLoginCredentials)
	loginGroup.POST("/totp", handler.handleLoginCode)
	loginGroup.POST("/sync-token", handler.handleLoginSyncToken)
	router.POST("/admin/logout", handler.handleLogout)

	protected := router.Group("/admin")
	protected.Use(handler.authorizeRequest)
	protected.PUT("/security/credentials", handler.handleUpdateCredentials)
	protected.POST("/security/2fa/setup", handler.handleTwoFactorSetup)
	protected.GET("/security/2fa/qr", handler.handleTwoFactorQRCode)
	protected.POST("/security/2fa/confirm", handler.handleTwoFactorConfirm)
	protected.DELETE("/security/2fa", handler.handleTwoFactorDisable)
	protected.GET("/security/sync-token", handler.handleExportSyncToken)
	protected.PUT("/settings/blob-token", handler.handleUpdateBlobToken)
	protected.POST("/assets", handler.handleUploadAsset)
	protected.PUT("/content/:collection", handler.handleUpsertContent)
	protected.DELETE("/content/:collection/:id", handler.handleDeleteContent)
	protected.PUT("/identity", handler.handleSaveIdentity)
	protected.GET("/visits/count", handler.handleVisitCount)

	return router, nil
}

type httpHandler struct {
	login       LoginService
	throttle    *login.Throttle
	tokens      AdminTokenManager
	credentials CredentialManager
	totp        *totp.Engine
	totpIssuer  string
	content     *content.Service
	assets      *assets.Gateway
	settings    *settings.Store
	realtime    *RealtimeDispatcher
	heartbeat   time.Duration
	maxUpload   int64
	clock       func() time.Time
	logger      *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			origins = nil
			break
		}
		origins = append(origins, origin)
	}
	// An empty or wildcard list echoes any origin back.
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) throttleLogin(c *gin.Context) {
	if h.throttle != nil && !h.throttle.Allow(c.ClientIP()) {
		h.logger.Warn("login throttled", zap.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_attempts"})
		return
	}
	c.Next()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		h.logger.Debug("admin request rejected", zap.Error(errInvalidAuthorization))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access_denied"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access_denied"})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access_denied"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}
