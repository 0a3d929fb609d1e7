package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/http/response"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
)

// uuidParam parses a path parameter, writing a 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, apierr.Invalid("invalid %s %q", name, c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}

// monthValue parses YYYY-MM or YYYY-MM-DD. An empty value yields the zero time.
func monthValue(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	m, err := growth.ParseMonth(raw)
	if err != nil {
		return time.Time{}, apierr.Invalid("%s", err.Error())
	}
	return m, nil
}

func uuidList(values []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, apierr.Invalid("invalid child id %q", part)
			}
			out = append(out, id)
		}
	}
	return out, nil
}
