package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lifeprint-backend/internal/http/response"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/services"
)

const maxFaceImageBytes = 16 << 20

var errNoFace = errors.New("no face found in image")

type FaceHandler struct {
	log   *logger.Logger
	faces services.FaceService
}

func NewFaceHandler(log *logger.Logger, faces services.FaceService) *FaceHandler {
	return &FaceHandler{
		log:   logger.OrNop(log).With("handler", "FaceHandler"),
		faces: faces,
	}
}

// POST /api/children/:id/faces (multipart field "image")
func (h *FaceHandler) Register(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFaceImageBytes)
	fh, err := c.FormFile("image")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_image", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_image", err)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_image", err)
		return
	}
	found, err := h.faces.Register(dbctx.Context{Ctx: c.Request.Context()}, childID, data)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if !found {
		response.RespondError(c, http.StatusUnprocessableEntity, "no_face_found", errNoFace)
		return
	}
	response.RespondOK(c, gin.H{"child_id": childID, "registered": true})
}
