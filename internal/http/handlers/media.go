package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/http/response"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/services"
)

// DefaultMaxUploadBytes bounds one multipart upload.
const DefaultMaxUploadBytes int64 = 512 << 20

type MediaHandler struct {
	log      *logger.Logger
	media    services.MediaService
	maxBytes int64
}

func NewMediaHandler(log *logger.Logger, media services.MediaService, maxBytes int64) *MediaHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &MediaHandler{
		log:      logger.OrNop(log).With("handler", "MediaHandler"),
		media:    media,
		maxBytes: maxBytes,
	}
}

// POST /api/media
// multipart: file, family_id, uploader_id, child_ids (repeated or comma separated), kind, captured_at (RFC3339)
func (h *MediaHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "upload_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}
	form := c.Request.MultipartForm

	familyID, err := uuid.Parse(strings.TrimSpace(c.PostForm("family_id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_family_id", err)
		return
	}
	var uploaderID uuid.UUID
	if raw := strings.TrimSpace(c.PostForm("uploader_id")); raw != "" {
		if uploaderID, err = uuid.Parse(raw); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_uploader_id", err)
			return
		}
	}
	childIDs, err := uuidList(form.Value["child_ids"])
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var capturedAt *time.Time
	if raw := strings.TrimSpace(c.PostForm("captured_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_captured_at", err)
			return
		}
		capturedAt = &t
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	item, task, err := h.media.Upload(dbctx.Context{Ctx: c.Request.Context()}, services.UploadInput{
		FamilyID:    familyID,
		UploaderID:  uploaderID,
		ChildIDs:    childIDs,
		Kind:        c.PostForm("kind"),
		Filename:    fh.Filename,
		ContentType: contentType,
		Data:        data,
		CapturedAt:  capturedAt,
	})
	if err != nil {
		if item == nil {
			response.RespondErr(c, err)
			return
		}
		h.log.Error("Upload stored but preprocess not started", "media_id", item.ID.String(), "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, "dispatch_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"media": item, "task": task})
}

// GET /api/media/:id
func (h *MediaHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	st, err := h.media.Status(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/media/:id/results
func (h *MediaHandler) Results(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	recs, err := h.media.Results(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"results": recs})
}

// POST /api/media/:id/reanalyze
func (h *MediaHandler) Reanalyze(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	task, err := h.media.Reanalyze(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"task_id": task.ID, "task": task})
}

// DELETE /api/media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.media.Delete(dbctx.Context{Ctx: c.Request.Context()}, id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/children/:id/media
func (h *MediaHandler) ListByChild(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	items, err := h.media.ListByChild(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"media": items})
}
