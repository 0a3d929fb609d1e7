package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// FaceRegistry enrolls one face vector per identity.
type FaceRegistry interface {
	Register(ctx context.Context, identity uuid.UUID, image []byte) (bool, error)
}

type FaceService interface {
	// Register enrolls the largest face in image for the child. It reports false when no face is found.
	Register(dbc dbctx.Context, childID uuid.UUID, image []byte) (bool, error)
}

type faceService struct {
	log      *logger.Logger
	children repos.ChildRepo
	registry FaceRegistry
}

func NewFaceService(baseLog *logger.Logger, children repos.ChildRepo, registry FaceRegistry) FaceService {
	return &faceService{
		log:      logger.OrNop(baseLog).With("service", "FaceService"),
		children: children,
		registry: registry,
	}
}

func (s *faceService) Register(dbc dbctx.Context, childID uuid.UUID, image []byte) (bool, error) {
	if len(image) == 0 {
		return false, apierr.Invalid("empty image")
	}
	if _, err := s.children.GetByID(dbc, childID); err != nil {
		return false, err
	}
	if s.registry == nil {
		return false, apierr.New(http.StatusServiceUnavailable, "face_matching_disabled", errors.New("face matching is not configured"))
	}
	ok, err := s.registry.Register(dbc.Ctx, childID, image)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Info("No face found in enrollment image", "child_id", childID.String())
	}
	return ok, nil
}
