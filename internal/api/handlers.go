package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tgarchive/internal/database"
	"tgarchive/internal/enrich"
	"tgarchive/internal/ingest"
)

// mediaURLTTL is the minimum validity requested for serving URLs.
const mediaURLTTL = 15 * time.Minute

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.serverError(c, "failed to list users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleListMessages(c *gin.Context) {
	filter, err := messageFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.store.ListMessages(c.Request.Context(), filter)
	if err != nil {
		s.serverError(c, "failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleExportMessages(c *gin.Context) {
	filter, err := messageFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := s.store.ExportMessages(c.Request.Context(), filter)
	if err != nil {
		s.serverError(c, "failed to export messages", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="messages_export.json"`)
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (s *Server) handleMediaURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key query parameter is required"})
		return
	}

	url, err := s.blobs.URLFor(key, mediaURLTTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) handleServeBlob(c *gin.Context) {
	key := c.Param("key")

	r, err := s.blobs.Open(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			s.log.Warn("Failed to close blob reader", "key", key, "error", closeErr)
		}
	}()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, r); err != nil {
		s.log.Warn("Failed to stream blob", "key", key, "error", err)
	}
}

type setFieldRequest struct {
	Text string `json:"text" binding:"required"`
}

// handleSetField serves manual edits of enrichment text. Edits
// overwrite whatever is stored; concurrent automatic enrichment races
// with them and the last write wins.
func (s *Server) handleSetField(field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := attachmentID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var req setFieldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text field is required"})
			return
		}

		ctx := c.Request.Context()
		switch field {
		case "description":
			err = s.store.SetAttachmentDescription(ctx, id, req.Text)
		case "transcription":
			err = s.store.SetAttachmentTranscription(ctx, id, req.Text)
		}

		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		case err != nil:
			s.serverError(c, "failed to update attachment", err)
		default:
			c.JSON(http.StatusOK, gin.H{"id": id, field: req.Text})
		}
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate regenerates enrichment text on demand, overwriting any
// stored value. An optional prompt customizes the generation.
func (s *Server) handleGenerate(field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.enricher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enrichment is not configured"})
			return
		}

		id, err := attachmentID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var req generateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		ctx := c.Request.Context()
		att, err := s.store.GetAttachment(ctx, id)
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		case err != nil:
			s.serverError(c, "failed to load attachment", err)
			return
		}

		if att.EnrichmentField() != field {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("attachment kind %s does not support %s", att.Kind, field)})
			return
		}

		text, err := s.enricher.Enrich(ctx, att, enrich.Options{Prompt: req.Prompt, Force: true})
		switch {
		case errors.Is(err, enrich.ErrNotEnrichable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			s.serverError(c, "enrichment failed", err)
		default:
			c.JSON(http.StatusOK, gin.H{"id": id, field: text})
		}
	}
}

type summarizeRequest struct {
	FullText string `json:"full_text" binding:"required"`
	Prompt   string `json:"prompt"`
}

// handleSummarize condenses caller-supplied archive text (typically the
// export output) into a report via the AI client.
func (s *Server) handleSummarize(c *gin.Context) {
	if s.ai == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summarization is not configured"})
		return
	}

	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "full_text field is required"})
		return
	}

	summary, err := s.ai.Summarize(c.Request.Context(), req.FullText, req.Prompt)
	if err != nil {
		s.serverError(c, "summarization failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) handleTriggerRun(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not configured"})
		return
	}

	summary, err := s.coordinator.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "an ingestion run is already in progress"})
	case err != nil:
		s.log.Error("Ingestion run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

func (s *Server) serverError(c *gin.Context, msg string, err error) {
	s.log.ErrorContext(c.Request.Context(), msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func attachmentID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid attachment id %q", c.Param("id"))
	}
	return id, nil
}

func messageFilterFromQuery(c *gin.Context) (database.MessageFilter, error) {
	var filter database.MessageFilter

	if v := c.Query("telegram_user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid telegram_user_id %q", v)
		}
		filter.TelegramUserID = id
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start_date %q, want RFC3339", v)
		}
		filter.Since = t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end_date %q, want RFC3339", v)
		}
		filter.Until = t
	}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return filter, fmt.Errorf("invalid page %q", v)
		}
		filter.Page = page
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = limit
	}

	return filter, nil
}
