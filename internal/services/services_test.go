package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

// recorder captures dispatch requests instead of running them.
type recorder struct {
	mu   sync.Mutex
	mode string
	err  error
	reqs []dispatch.Request
}

func (r *recorder) Dispatch(_ context.Context, req dispatch.Request) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.reqs = append(r.reqs, req)
	return &types.JobRun{ID: uuid.New(), JobType: req.JobType, Status: jobdomain.StatusQueued}, nil
}

func (r *recorder) Mode() string {
	if r.mode == "" {
		return dispatch.ModeAsync
	}
	return r.mode
}

type fixture struct {
	db    *gorm.DB
	repos repos.Set
	store *objectstore.Memory
	d     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	return &fixture{
		db:    db,
		repos: repos.NewSet(db, testutil.Logger(t)),
		store: objectstore.NewMemory(""),
		d:     &recorder{},
	}
}

func (f *fixture) dbc() dbctx.Context { return dbctx.Background(context.Background()) }

func (f *fixture) media(t *testing.T) MediaService {
	return NewMediaService(f.db, testutil.Logger(t), f.repos, f.store, f.d)
}

func (f *fixture) child(t *testing.T) *types.Child {
	return testutil.SeedChild(t, context.Background(), f.db, "Mia", time.Date(2021, 3, 10, 0, 0, 0, 0, time.UTC))
}

func TestUploadStoresAssetAndDispatchesPreprocess(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	family := uuid.New()

	item, task, err := f.media(t).Upload(f.dbc(), UploadInput{
		FamilyID:    family,
		UploaderID:  uuid.New(),
		ChildIDs:    []uuid.UUID{child.ID},
		Filename:    "../../park/clip.mp4",
		ContentType: "video/mp4",
		Data:        []byte("video-bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, mediadomain.KindVideo, item.Kind)
	assert.Equal(t, mediadomain.StatusPending, item.Status)
	assert.Equal(t, "clip.mp4", item.OriginalFilename)
	assert.Equal(t, UploadKey(family, item.ID, "clip.mp4"), item.StorageKey)
	assert.EqualValues(t, len("video-bytes"), item.FileSize)

	stored, err := f.store.Get(context.Background(), item.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(stored))

	loaded, err := f.repos.Media.GetByID(f.dbc(), item.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.PrimaryChildID())
	assert.Equal(t, child.ID, *loaded.PrimaryChildID())

	assert.Equal(t, mediadomain.TaskPreprocess, task.Kind)
	assert.Equal(t, mediadomain.TaskQueued, task.Status)
	require.NotNil(t, task.JobID)

	require.Len(t, f.d.reqs, 1)
	req := f.d.reqs[0]
	assert.Equal(t, stagetask.JobMediaPreprocess, req.JobType)
	assert.Equal(t, item.ID, req.EntityID)
	assert.Equal(t, item.ID.String(), req.Payload["media_id"])
	assert.Equal(t, task.ID.String(), req.Payload["task_id"])
}

func TestUploadInlineDoesNotLinkJob(t *testing.T) {
	f := newFixture(t)
	f.d.mode = dispatch.ModeInline
	_, task, err := f.media(t).Upload(f.dbc(), UploadInput{
		FamilyID: uuid.New(),
		Kind:     "image",
		Filename: "photo.jpg",
		Data:     []byte("jpeg"),
	})
	require.NoError(t, err)
	assert.Nil(t, task.JobID)
}

func TestUploadRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	svc := f.media(t)

	_, _, err := svc.Upload(f.dbc(), UploadInput{FamilyID: uuid.New(), Filename: "a.mp4"})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)

	_, _, err = svc.Upload(f.dbc(), UploadInput{FamilyID: uuid.New(), Kind: "audio", Data: []byte("x")})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)

	_, _, err = svc.Upload(f.dbc(), UploadInput{FamilyID: uuid.New(), ChildIDs: []uuid.UUID{uuid.New()}, Data: []byte("x")})
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	assert.Empty(t, f.store.Keys("uploads/"))
	assert.Empty(t, f.d.reqs)
}

func TestUploadDispatchFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	f.d.err = errors.New("queue unavailable")

	item, task, err := f.media(t).Upload(f.dbc(), UploadInput{FamilyID: uuid.New(), Filename: "a.jpg", Data: []byte("x")})
	require.Error(t, err)
	require.NotNil(t, item)

	stored, err := f.repos.Tasks.GetByID(f.dbc(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, mediadomain.TaskFailed, stored.Status)
	assert.Equal(t, "queue unavailable", stored.ErrorMessage)

	loaded, err := f.repos.Media.GetByID(f.dbc(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, mediadomain.StatusFailed, loaded.Status)
}

func TestReanalyzeResetsStatusAndTask(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	item := testutil.SeedMedia(t, context.Background(), f.db, mediadomain.KindVideo, time.Now(), child.ID)
	require.NoError(t, f.repos.Media.UpdateStatus(f.dbc(), item.ID, mediadomain.StatusFailed))
	first, err := f.repos.Tasks.ResetForMedia(f.dbc(), item.ID, mediadomain.TaskPreprocess)
	require.NoError(t, err)
	require.NoError(t, f.repos.Tasks.UpdateFields(f.dbc(), first.ID, map[string]interface{}{
		"status":        mediadomain.TaskFailed,
		"attempts":      4,
		"error_message": "ffmpeg exited 1",
	}))

	task, err := f.media(t).Reanalyze(f.dbc(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, task.ID)

	st, err := f.media(t).Status(f.dbc(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, mediadomain.StatusPending, st.Media.Status)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, mediadomain.TaskQueued, st.Tasks[0].Status)
	assert.Equal(t, 0, st.Tasks[0].Attempts)
	assert.Empty(t, st.Tasks[0].ErrorMessage)
	require.Len(t, f.d.reqs, 1)

	_, err = f.media(t).Reanalyze(f.dbc(), uuid.New())
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestResultsAndListByChild(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	item := testutil.SeedMedia(t, context.Background(), f.db, mediadomain.KindVideo, time.Now(), child.ID)
	testutil.SeedAnalysis(t, context.Background(), f.db, item.ID, &child.ID, "behavior", `{"activities":[]}`)

	recs, err := f.media(t).Results(f.dbc(), item.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	items, err := f.media(t).ListByChild(f.dbc(), child.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)

	_, err = f.media(t).ListByChild(f.dbc(), uuid.New())
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestDeleteRemovesAssetAndRow(t *testing.T) {
	f := newFixture(t)
	item := testutil.SeedMedia(t, context.Background(), f.db, mediadomain.KindVideo, time.Now())
	_, err := f.store.Put(context.Background(), item.StorageKey, []byte("x"), "video/mp4")
	require.NoError(t, err)

	require.NoError(t, f.media(t).Delete(f.dbc(), item.ID))
	assert.Empty(t, f.store.Keys("uploads/"))
	_, err = f.repos.Media.GetByID(f.dbc(), item.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	assert.ErrorIs(t, f.media(t).Delete(f.dbc(), item.ID), apierr.ErrNotFound)
}

func TestMediaKind(t *testing.T) {
	cases := []struct {
		kind, contentType, want string
	}{
		{"", "video/quicktime", mediadomain.KindVideo},
		{"", "image/png", mediadomain.KindImage},
		{"", "", mediadomain.KindImage},
		{"VIDEO", "image/png", mediadomain.KindVideo},
	}
	for _, tc := range cases {
		got, err := mediaKind(tc.kind, tc.contentType)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "kind=%q type=%q", tc.kind, tc.contentType)
	}
	assert.Equal(t, "unknown", cleanFilename(" "))
	assert.Equal(t, "a.jpg", cleanFilename(`C:\photos\a.jpg`))
}

func (f *fixture) reports(t *testing.T) ReportService {
	uc := report.New(report.UsecasesDeps{
		DB:       f.db,
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Media:    f.repos.Media,
		Analyses: f.repos.Analyses,
		Metrics:  f.repos.Metrics,
		Reports:  f.repos.Reports,
	})
	return NewReportService(testutil.Logger(t), uc, f.store, f.d, time.Minute)
}

func TestReportGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	month := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	res, err := f.reports(t).Generate(f.dbc(), child.ID, month)
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Report)
	assert.Equal(t, "2024-05-01", res.Report.Report.ReportMonth)
	assert.Len(t, res.Report.Radar, 12)

	res, err = f.reports(t).Generate(f.dbc(), child.ID, month)
	require.NoError(t, err)
	assert.False(t, res.Created)

	list, err := f.reports(t).List(f.dbc(), child.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReportGetFlattensRadarAndSignsChart(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	chartKey := "reports/" + child.ID.String() + "/2024-05.png"
	_, err := f.store.Put(context.Background(), chartKey, []byte("png"), "image/png")
	require.NoError(t, err)
	require.NoError(t, f.repos.Reports.Create(f.dbc(), &types.MonthlyReport{
		ChildID:     child.ID,
		ReportMonth: "2024-05-01",
		RadarData:   datatypes.JSON(`{"interest":{"sport":0.756}}`),
		SparkCards:  datatypes.JSON(`[{"talent":"motor","talent_name":"运动协调","confidence":0.8,"months_detected":3}]`),
		ChartKey:    chartKey,
	}))

	v, err := f.reports(t).Get(f.dbc(), child.ID, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, v.Radar, 12)
	assert.Equal(t, growth.RadarDimension{Category: "interest", Dimension: "sport", Label: "运动", Score: 75.6}, v.Radar[0])
	require.Len(t, v.Sparks, 1)
	assert.Equal(t, "motor", v.Sparks[0].Talent)
	assert.True(t, strings.HasPrefix(v.ChartURL, "memory://objects/"))

	_, err = f.reports(t).Get(f.dbc(), child.ID, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestReportBatchDispatchesMonth(t *testing.T) {
	f := newFixture(t)
	job, err := f.reports(t).Batch(f.dbc(), time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Len(t, f.d.reqs, 1)
	assert.Equal(t, stagetask.JobReportBatch, f.d.reqs[0].JobType)
	assert.Equal(t, "2024-05-01", f.d.reqs[0].Payload["month"])

	_, err = f.reports(t).Batch(f.dbc(), time.Time{})
	require.NoError(t, err)
	_, ok := f.d.reqs[1].Payload["month"]
	assert.False(t, ok)
}

func TestReportMetrics(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	_, err := f.reports(t).RecordMetric(f.dbc(), report.RecordMetricInput{ChildID: child.ID, MetricType: "focus_motor", Value: 0.6, MeasuredAt: time.Now()})
	require.NoError(t, err)
	testutil.SeedMetric(t, context.Background(), f.db, child.ID, "height_cm", 96, time.Now())

	all, err := f.reports(t).Metrics(f.dbc(), child.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	focus, err := f.reports(t).Metrics(f.dbc(), child.ID, "focus_motor")
	require.NoError(t, err)
	require.Len(t, focus, 1)
	assert.InDelta(t, 0.6, focus[0].Value, 1e-9)
}

func (f *fixture) exports(t *testing.T) ExportService {
	uc := export.New(export.UsecasesDeps{
		DB:       f.db,
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Media:    f.repos.Media,
		Analyses: f.repos.Analyses,
		Reports:  f.repos.Reports,
		Tasks:    f.repos.Tasks,
		Store:    f.store,
	})
	return NewExportService(testutil.Logger(t), uc, f.d)
}

func TestExportRequestDispatchesBuild(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)

	task, err := f.exports(t).Request(f.dbc(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, mediadomain.TaskExport, task.Kind)
	require.Len(t, f.d.reqs, 1)
	assert.Equal(t, stagetask.JobExportBuild, f.d.reqs[0].JobType)
	assert.Equal(t, "export", f.d.reqs[0].EntityType)
	assert.Equal(t, task.ID.String(), f.d.reqs[0].Payload["export_id"])

	st, err := f.exports(t).Status(f.dbc(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, mediadomain.TaskQueued, st.Status)
	assert.Equal(t, child.ID, st.ChildID)

	_, err = f.exports(t).DownloadURL(f.dbc(), task.ID)
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestExportDispatchFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	f.d.err = errors.New("queue unavailable")

	_, err := f.exports(t).Request(f.dbc(), child.ID)
	require.Error(t, err)

	tasks, err := f.repos.Tasks.ListByChild(f.dbc(), child.ID, mediadomain.TaskExport)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, mediadomain.TaskFailed, tasks[0].Status)
}

type fakeRegistry struct {
	found bool
	got   map[uuid.UUID][]byte
}

func (r *fakeRegistry) Register(_ context.Context, id uuid.UUID, image []byte) (bool, error) {
	if r.got == nil {
		r.got = map[uuid.UUID][]byte{}
	}
	r.got[id] = image
	return r.found, nil
}

func TestFaceRegister(t *testing.T) {
	f := newFixture(t)
	child := f.child(t)
	reg := &fakeRegistry{found: true}
	svc := NewFaceService(testutil.Logger(t), f.repos.Children, reg)

	ok, err := svc.Register(f.dbc(), child.ID, []byte("jpeg"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("jpeg"), reg.got[child.ID])

	reg.found = false
	ok, err = svc.Register(f.dbc(), child.ID, []byte("jpeg"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Register(f.dbc(), child.ID, nil)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = svc.Register(f.dbc(), uuid.New(), []byte("jpeg"))
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestJobServiceReadsQueuedRows(t *testing.T) {
	f := newFixture(t)
	q := &dispatch.Queue{Jobs: f.repos.Jobs}
	media := uuid.New()
	job, err := q.Dispatch(context.Background(), dispatch.Request{JobType: stagetask.JobMediaPreprocess, EntityType: "media", EntityID: media})
	require.NoError(t, err)

	svc := NewJobService(testutil.Logger(t), f.repos.Jobs)
	got, err := svc.GetByID(f.dbc(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusQueued, got.Status)

	latest, err := svc.GetLatestForEntity(f.dbc(), "media", media, stagetask.JobMediaPreprocess)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, job.ID, latest.ID)

	_, err = svc.GetByID(f.dbc(), uuid.New())
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}
