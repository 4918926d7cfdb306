package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/login"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type codeRequest struct {
	FlowID string `json:"flow_id"`
	Code   string `json:"code"`
}

type syncTokenRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	State       login.State `json:"state"`
	FlowID      string      `json:"flow_id,omitempty"`
	AccessToken string      `json:"access_token,omitempty"`
	ExpiresIn   int64       `json:"expires_in,omitempty"`
	TokenType   string      `json:"token_type,omitempty"`
}

func (h *httpHandler) handleLoginCredentials(c *gin.Context) {
	var request credentialsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	flow, err := h.login.StartWithCredentials(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondLoginError(c, "credentials", err)
		return
	}
	h.respondFlow(c, flow)
}

func (h *httpHandler) handleLoginCode(c *gin.Context) {
	var request codeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	flow, err := h.login.ContinueWithCode(c.Request.Context(), request.FlowID, request.Code)
	if err != nil {
		h.respondLoginError(c, "totp", err)
		return
	}
	h.respondFlow(c, flow)
}

func (h *httpHandler) handleLoginSyncToken(c *gin.Context) {
	var request syncTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	flow, err := h.login.LoginWithSyncToken(c.Request.Context(), request.Token)
	if err != nil {
		h.respondLoginError(c, "sync_token", err)
		return
	}
	h.respondFlow(c, flow)
}

// Sessions are stateless bearer tokens; the client discards its copy.
func (h *httpHandler) handleLogout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondFlow(c *gin.Context, flow login.Flow) {
	if flow.State != login.StateAuthenticated {
		c.JSON(http.StatusOK, loginResponse{State: flow.State, FlowID: flow.ID})
		return
	}
	token, expiresIn, err := h.tokens.IssueAdminToken(c.Request.Context(), flow.Username)
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		State:       flow.State,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) respondLoginError(c *gin.Context, step string, err error) {
	switch {
	case errors.Is(err, login.ErrAccessDenied),
		errors.Is(err, login.ErrInvalidTransition),
		errors.Is(err, login.ErrFlowNotFound):
		h.logger.Info("login rejected", zap.String("step", step), zap.String("client_ip", c.ClientIP()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied"})
	default:
		h.logger.Error("login failed", zap.String("step", step), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_unavailable"})
	}
}
