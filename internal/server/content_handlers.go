package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxContentBodyBytes = 1 << 20

type contentListResponse struct {
	Collection string            `json:"collection"`
	Source     content.Source    `json:"source"`
	Records    []json.RawMessage `json:"records"`
}

type visitRequest struct {
	Path     string `json:"path"`
	Referrer string `json:"referrer"`
}

type streamPayload struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Count      int    `json:"count"`
	Timestamp  int64  `json:"timestamp"`
}

func (h *httpHandler) handleListContent(c *gin.Context) {
	view, err := h.content.List(c.Param("collection"))
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	records := make([]json.RawMessage, 0, len(view.Documents))
	for _, document := range view.Documents {
		records = append(records, document.Payload)
	}
	c.JSON(http.StatusOK, contentListResponse{Collection: view.Collection, Source: view.Source, Records: records})
}

func (h *httpHandler) handleGetIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, h.content.Identity())
}

func (h *httpHandler) handleUpsertContent(c *gin.Context) {
	collection := c.Param("collection")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxContentBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := content.DecodeRecord(collection, body, h.content.NextStamp())
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	result, err := h.content.Upsert(c.Request.Context(), record)
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDeleteContent(c *gin.Context) {
	result, err := h.content.Delete(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSaveIdentity(c *gin.Context) {
	var identity content.SiteIdentity
	if err := c.ShouldBindJSON(&identity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record"})
		return
	}
	result, err := h.content.SaveIdentity(c.Request.Context(), identity)
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleRecordVisit(c *gin.Context) {
	var request visitRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	referrer := request.Referrer
	if referrer == "" {
		referrer = c.Request.Referer()
	}
	visit, err := h.content.RecordVisit(c.Request.Context(), request.Path, referrer)
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": visit.ID})
}

func (h *httpHandler) handleVisitCount(c *gin.Context) {
	count, err := h.content.VisitCount(c.Request.Context())
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// handleContentStream sends the current state of every collection, then one snapshot event
// per view change until the client disconnects.
func (h *httpHandler) handleContentStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, realtimeTopicContent)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	now := h.clock().UTC()
	for _, collection := range content.EditableCollections() {
		view, err := h.content.List(collection)
		if err != nil {
			continue
		}
		c.SSEvent(RealtimeEventSnapshot, streamPayload{
			Collection: view.Collection,
			Source:     string(view.Source),
			Count:      len(view.Documents),
			Timestamp:  now.UnixMilli(),
		})
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, streamPayload{
				Collection: message.Collection,
				Source:     message.Source,
				Count:      message.Count,
				Timestamp:  message.Timestamp.UnixMilli(),
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": tick.UTC().UnixMilli()})
			return true
		}
	})
}

func (h *httpHandler) respondContentError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "content_unavailable"
	switch {
	case errors.Is(err, content.ErrUnknownCollection):
		status, code = http.StatusNotFound, "unknown_collection"
	case errors.Is(err, content.ErrEphemeralAsset):
		status, code = http.StatusUnprocessableEntity, "ephemeral_asset"
	case errors.Is(err, content.ErrInvalidRecord):
		status, code = http.StatusBadRequest, "invalid_record"
	case errors.Is(err, content.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("content request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response := gin.H{"error": code}
	var serviceErr *content.ServiceError
	if errors.As(err, &serviceErr) {
		response["code"] = serviceErr.Code()
	}
	c.JSON(status, response)
}
