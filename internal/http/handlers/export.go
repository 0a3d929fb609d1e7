package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lifeprint-backend/internal/http/response"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/services"
)

type ExportHandler struct {
	log     *logger.Logger
	exports services.ExportService
}

func NewExportHandler(log *logger.Logger, exports services.ExportService) *ExportHandler {
	return &ExportHandler{
		log:     logger.OrNop(log).With("handler", "ExportHandler"),
		exports: exports,
	}
}

// POST /api/children/:id/exports
func (h *ExportHandler) Request(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	task, err := h.exports.Request(dbctx.Context{Ctx: c.Request.Context()}, childID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"export_id": task.ID, "status": task.Status})
}

// GET /api/exports/:id
func (h *ExportHandler) Status(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	st, err := h.exports.Status(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/exports/:id/download
// ?redirect=1 answers with a 302 to the signed link instead of JSON.
func (h *ExportHandler) Download(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	url, err := h.exports.DownloadURL(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if c.Query("redirect") == "1" {
		c.Redirect(http.StatusFound, url)
		return
	}
	response.RespondOK(c, gin.H{"url": url})
}
