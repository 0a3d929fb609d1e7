package services

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type UploadInput struct {
	FamilyID   uuid.UUID
	UploaderID uuid.UUID
	ChildIDs   []uuid.UUID
	// Kind is derived from ContentType when empty.
	Kind        string
	Filename    string
	ContentType string
	Data        []byte
	CapturedAt  *time.Time
}

// MediaStatus is the pollable state of one upload.
type MediaStatus struct {
	Media *types.MediaItem        `json:"media"`
	Tasks []*types.ProcessingTask `json:"tasks"`
}

type MediaService interface {
	Upload(dbc dbctx.Context, in UploadInput) (*types.MediaItem, *types.ProcessingTask, error)
	Reanalyze(dbc dbctx.Context, mediaID uuid.UUID) (*types.ProcessingTask, error)
	Status(dbc dbctx.Context, mediaID uuid.UUID) (*MediaStatus, error)
	Results(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.AnalysisRecord, error)
	ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MediaItem, error)
	Delete(dbc dbctx.Context, mediaID uuid.UUID) error
}

type mediaService struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	store    objectstore.Store
	dispatch dispatch.Dispatcher
}

func NewMediaService(
	db *gorm.DB,
	baseLog *logger.Logger,
	set repos.Set,
	store objectstore.Store,
	d dispatch.Dispatcher,
) MediaService {
	return &mediaService{
		db:       db,
		log:      logger.OrNop(baseLog).With("service", "MediaService"),
		repos:    set,
		store:    store,
		dispatch: d,
	}
}

// UploadKey is where an upload's original bytes are stored.
func UploadKey(familyID, mediaID uuid.UUID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", familyID, mediaID, filename)
}

func (s *mediaService) Upload(dbc dbctx.Context, in UploadInput) (*types.MediaItem, *types.ProcessingTask, error) {
	if in.FamilyID == uuid.Nil {
		return nil, nil, apierr.Invalid("missing family_id")
	}
	if len(in.Data) == 0 {
		return nil, nil, apierr.Invalid("empty upload")
	}
	kind, err := mediaKind(in.Kind, in.ContentType)
	if err != nil {
		return nil, nil, err
	}
	for _, cid := range in.ChildIDs {
		if _, err := s.repos.Children.GetByID(dbc, cid); err != nil {
			return nil, nil, err
		}
	}
	filename := cleanFilename(in.Filename)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	item := &types.MediaItem{
		ID:               uuid.New(),
		FamilyID:         in.FamilyID,
		UploaderID:       in.UploaderID,
		Kind:             kind,
		OriginalFilename: filename,
		FileSize:         int64(len(in.Data)),
		CapturedAt:       in.CapturedAt,
		Status:           mediadomain.StatusPending,
	}
	item.StorageKey = UploadKey(item.FamilyID, item.ID, filename)
	if _, err := s.store.Put(dbc.Ctx, item.StorageKey, in.Data, contentType); err != nil {
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}

	var task *types.ProcessingTask
	err = dbc.Transaction(s.db, func(tx dbctx.Context) error {
		if err := s.repos.Media.Create(tx, item, in.ChildIDs); err != nil {
			return err
		}
		task, err = s.repos.Tasks.ResetForMedia(tx, item.ID, mediadomain.TaskPreprocess)
		return err
	})
	if err != nil {
		if derr := s.store.Delete(dbc.Ctx, item.StorageKey); derr != nil {
			s.log.Warn("Orphaned upload not removed", "media_id", item.ID.String(), "error", derr)
		}
		return nil, nil, fmt.Errorf("create media: %w", err)
	}
	s.log.Info("Media uploaded",
		"media_id", item.ID.String(),
		"family_id", item.FamilyID.String(),
		"uploader_id", item.UploaderID.String(),
		"kind", item.Kind,
		"size", item.FileSize,
	)

	if err := s.startPreprocess(dbc, item.ID, task); err != nil {
		return item, task, err
	}
	return item, task, nil
}

func (s *mediaService) Reanalyze(dbc dbctx.Context, mediaID uuid.UUID) (*types.ProcessingTask, error) {
	var task *types.ProcessingTask
	err := dbc.Transaction(s.db, func(tx dbctx.Context) error {
		if err := s.repos.Media.UpdateStatus(tx, mediaID, mediadomain.StatusPending); err != nil {
			return err
		}
		var err error
		task, err = s.repos.Tasks.ResetForMedia(tx, mediaID, mediadomain.TaskPreprocess)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Reanalysis requested", "media_id", mediaID.String(), "task_id", task.ID.String())
	if err := s.startPreprocess(dbc, mediaID, task); err != nil {
		return task, err
	}
	return task, nil
}

// startPreprocess dispatches the first stage. A dispatch failure fails the task and the
// media so pollers see a terminal state.
func (s *mediaService) startPreprocess(dbc dbctx.Context, mediaID uuid.UUID, task *types.ProcessingTask) error {
	job, err := s.dispatch.Dispatch(dbc.Ctx, dispatch.Request{
		JobType:    stagetask.JobMediaPreprocess,
		EntityType: "media",
		EntityID:   mediaID,
		Payload: map[string]any{
			"media_id": mediaID.String(),
			"task_id":  task.ID.String(),
		},
	})
	if err != nil {
		s.log.Error("Preprocess dispatch failed", "media_id", mediaID.String(), "error", err)
		tracker := stagetask.Tracker{Tasks: s.repos.Tasks, Media: s.repos.Media, Log: s.log}
		tracker.MarkFailed(dbc.Ctx, stagetask.Ref{TaskID: task.ID, MediaID: mediaID, Stage: "dispatch"}, err)
		task.Status = mediadomain.TaskFailed
		task.ErrorMessage = err.Error()
		return fmt.Errorf("dispatch preprocess: %w", err)
	}
	if job != nil && dispatch.Persisted(s.dispatch) {
		if err := s.repos.Tasks.UpdateFields(dbc, task.ID, map[string]interface{}{"job_id": job.ID}); err != nil {
			s.log.Warn("Task job link not saved", "task_id", task.ID.String(), "error", err)
		} else {
			id := job.ID
			task.JobID = &id
		}
	}
	return nil
}

func (s *mediaService) Status(dbc dbctx.Context, mediaID uuid.UUID) (*MediaStatus, error) {
	item, err := s.repos.Media.GetByID(dbc, mediaID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repos.Tasks.ListByMedia(dbc, mediaID)
	if err != nil {
		return nil, err
	}
	return &MediaStatus{Media: item, Tasks: tasks}, nil
}

func (s *mediaService) Results(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.AnalysisRecord, error) {
	if _, err := s.repos.Media.GetByID(dbc, mediaID); err != nil {
		return nil, err
	}
	return s.repos.Analyses.ListByMedia(dbc, mediaID)
}

func (s *mediaService) ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MediaItem, error) {
	if _, err := s.repos.Children.GetByID(dbc, childID); err != nil {
		return nil, err
	}
	return s.repos.Media.ListByChild(dbc, childID)
}

// Delete removes the stored asset and the row. A missing object is not an error.
func (s *mediaService) Delete(dbc dbctx.Context, mediaID uuid.UUID) error {
	item, err := s.repos.Media.GetByID(dbc, mediaID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(dbc.Ctx, item.StorageKey); err != nil && !errors.Is(err, objectstore.ErrObjectNotFound) {
		return fmt.Errorf("delete asset: %w", err)
	}
	if err := s.repos.Media.Delete(dbc, mediaID); err != nil {
		return err
	}
	s.log.Info("Media deleted", "media_id", mediaID.String())
	return nil
}

func mediaKind(kind, contentType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case mediadomain.KindVideo:
		return mediadomain.KindVideo, nil
	case mediadomain.KindImage:
		return mediadomain.KindImage, nil
	case "":
		if strings.HasPrefix(strings.ToLower(contentType), "video") {
			return mediadomain.KindVideo, nil
		}
		return mediadomain.KindImage, nil
	default:
		return "", apierr.Invalid("unsupported media kind %q", kind)
	}
}

func cleanFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "unknown"
	}
	return name
}
