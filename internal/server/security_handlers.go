package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"github.com/MarcoPoloResearchLab/folio/internal/synctoken"
	"github.com/MarcoPoloResearchLab/folio/internal/totp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const qrCodeSize = 256

type twoFactorConfirmRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type blobTokenRequest struct {
	Token string `json:"token"`
}

func (h *httpHandler) handleUpdateCredentials(c *gin.Context) {
	var request credentialsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.credentials.UpdateLogin(request.Username, request.Password); err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("failed to update credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials_update_failed"})
		return
	}
	h.logger.Info("admin credentials updated", zap.String("subject", c.GetString(adminSubjectContextKey)))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTwoFactorSetup(c *gin.Context) {
	secret, err := h.totp.GenerateSecret()
	if err != nil {
		h.logger.Error("failed to generate two-factor secret", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "secret_generation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":           secret,
		"provisioning_uri": totp.ProvisioningURI(h.totpIssuer, h.credentials.Current().Username, secret),
	})
}

func (h *httpHandler) handleTwoFactorQRCode(c *gin.Context) {
	secret := strings.TrimSpace(c.Query("secret"))
	if secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_secret"})
		return
	}
	image, err := totp.QRCode(totp.ProvisioningURI(h.totpIssuer, h.credentials.Current().Username, secret), qrCodeSize)
	if err != nil {
		h.logger.Warn("failed to render qr code", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_secret"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", image)
}

// handleTwoFactorConfirm enables two-factor only once the admin proves the authenticator
// produces codes for the offered secret.
func (h *httpHandler) handleTwoFactorConfirm(c *gin.Context) {
	var request twoFactorConfirmRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ok, err := h.totp.Validate(request.Secret, request.Code, h.clock())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_secret"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}
	secret := request.Secret
	if err := h.credentials.SetTwoFactorSecret(&secret); err != nil {
		h.logger.Error("failed to enable two-factor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials_update_failed"})
		return
	}
	h.logger.Info("two-factor enabled", zap.String("subject", c.GetString(adminSubjectContextKey)))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTwoFactorDisable(c *gin.Context) {
	if err := h.credentials.SetTwoFactorSecret(nil); err != nil {
		h.logger.Error("failed to disable two-factor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials_update_failed"})
		return
	}
	h.logger.Info("two-factor disabled", zap.String("subject", c.GetString(adminSubjectContextKey)))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExportSyncToken(c *gin.Context) {
	token, err := synctoken.Encode(h.credentials.Current())
	if err != nil {
		h.logger.Error("failed to encode sync token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_token_failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// handleUpdateBlobToken stores the asset access token; an empty token clears it so uploads
// fall back to the configured default.
func (h *httpHandler) handleUpdateBlobToken(c *gin.Context) {
	if h.settings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settings_unavailable"})
		return
	}
	var request blobTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token := strings.TrimSpace(request.Token)
	var err error
	if token == "" {
		err = h.settings.Delete(settings.KeyBlobAccessToken)
	} else {
		err = h.settings.PutString(settings.KeyBlobAccessToken, token)
	}
	if err != nil {
		h.logger.Error("failed to store blob token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_write_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
