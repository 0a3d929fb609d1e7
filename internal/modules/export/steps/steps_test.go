package steps

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	repos repos.Set
	store *objectstore.Memory
	child *types.Child
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	ctx := context.Background()
	return &fixture{
		ctx:   ctx,
		db:    db,
		repos: repos.NewSet(db, testutil.Logger(t)),
		store: objectstore.NewMemory("https://files.test"),
		child: testutil.SeedChild(t, ctx, db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) buildDeps(t *testing.T) BuildDeps {
	return BuildDeps{
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Media:    f.repos.Media,
		Analyses: f.repos.Analyses,
		Reports:  f.repos.Reports,
		Tasks:    f.repos.Tasks,
		Store:    f.store,
		Now:      func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC) },
	}
}

func (f *fixture) exportTask(t *testing.T) *types.ProcessingTask {
	t.Helper()
	id := f.child.ID
	task := &types.ProcessingTask{ChildID: &id, Kind: media.TaskExport}
	require.NoError(t, f.repos.Tasks.Create(dbctx.Background(f.ctx), task))
	return task
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

func names(files map[string][]byte) []string {
	out := make([]string, 0, len(files))
	for k := range files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestBuildWritesArchive(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	a := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, at, f.child.ID)
	b := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, at.Add(time.Hour), f.child.ID)
	missing := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, at.Add(2*time.Hour), f.child.ID)
	_, err := f.store.Put(f.ctx, a.StorageKey, []byte("video-a"), "video/mp4")
	require.NoError(t, err)
	_, err = f.store.Put(f.ctx, b.StorageKey, []byte("video-b"), "video/mp4")
	require.NoError(t, err)
	_ = missing

	testutil.SeedAnalysis(t, f.ctx, f.db, a.ID, &f.child.ID, media.AnalysisEmotion, `{"dominant":"happy"}`)

	chartKey := "reports/" + f.child.ID.String() + "/2024-05.png"
	_, err = f.store.Put(f.ctx, chartKey, []byte("\x89PNG-chart"), "image/png")
	require.NoError(t, err)
	require.NoError(t, f.repos.Reports.Create(dbctx.Background(f.ctx), &types.MonthlyReport{
		ChildID:     f.child.ID,
		ReportMonth: "2024-05-01",
		RadarData:   []byte(`{"interest":{"art":0.5}}`),
		SparkCards:  []byte(`[]`),
		Summary:     "summary",
		Narrative:   "story",
		ChartKey:    chartKey,
	}))
	require.NoError(t, f.repos.Reports.Create(dbctx.Background(f.ctx), &types.MonthlyReport{
		ChildID:     f.child.ID,
		ReportMonth: "2024-04-01",
		Summary:     "quiet month",
	}))

	task := f.exportTask(t)
	out, err := Build(f.ctx, f.buildDeps(t), BuildInput{ExportID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, "exports/"+f.child.ID.String()+"/"+task.ID.String()+".zip", out.Key)
	assert.Equal(t, 2, out.Media)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 2, out.Reports)
	assert.Equal(t, ContentTypeZip, f.store.ContentType(out.Key))

	raw, err := f.store.Get(f.ctx, out.Key)
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), out.Size)

	files := readZip(t, raw)
	assert.Equal(t, []string{
		"analyses.json",
		"child_info.json",
		"media/clip.mp4",
		"media/clip_2.mp4",
		"reports/2024-04-01.json",
		"reports/2024-05-01.json",
		"reports/2024-05-01.png",
	}, names(files))

	assert.JSONEq(t, `{"name":"Mia","birth_date":"2021-02-10","gender":"female","export_date":"2024-06-02T08:00:00Z"}`,
		string(files["child_info.json"]))
	assert.Equal(t, "video-a", string(files["media/clip.mp4"]))
	assert.Equal(t, "video-b", string(files["media/clip_2.mp4"]))
	assert.Equal(t, "\x89PNG-chart", string(files["reports/2024-05-01.png"]))

	var analyses []map[string]any
	require.NoError(t, json.Unmarshal(files["analyses.json"], &analyses))
	require.Len(t, analyses, 1)
	assert.Equal(t, a.ID.String(), analyses[0]["media_id"])
	assert.Equal(t, "emotion", analyses[0]["type"])
	assert.Equal(t, map[string]any{"dominant": "happy"}, analyses[0]["result"])

	assert.JSONEq(t, `{"month":"2024-05-01","summary":"summary","radar_data":{"interest":{"art":0.5}},"spark_cards":[],"narrative":"story"}`,
		string(files["reports/2024-05-01.json"]))
	assert.JSONEq(t, `{"month":"2024-04-01","summary":"quiet month","radar_data":{},"spark_cards":[],"narrative":""}`,
		string(files["reports/2024-04-01.json"]))

	st, err := GetStatus(f.ctx, StatusDeps{Tasks: f.repos.Tasks}, task.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Key, st.Key)
	assert.Equal(t, out.Size, st.Size)
}

func TestBuildEmptyChild(t *testing.T) {
	f := newFixture(t)
	task := f.exportTask(t)
	out, err := Build(f.ctx, f.buildDeps(t), BuildInput{ExportID: task.ID})
	require.NoError(t, err)

	raw, err := f.store.Get(f.ctx, out.Key)
	require.NoError(t, err)
	files := readZip(t, raw)
	assert.Equal(t, []string{"analyses.json", "child_info.json"}, names(files))
	assert.JSONEq(t, `[]`, string(files["analyses.json"]))
}

func TestBuildRejectsNonExportTask(t *testing.T) {
	f := newFixture(t)
	m := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, time.Now(), f.child.ID)
	task := &types.ProcessingTask{MediaID: &m.ID, Kind: media.TaskPreprocess}
	require.NoError(t, f.repos.Tasks.Create(dbctx.Background(f.ctx), task))

	_, err := Build(f.ctx, f.buildDeps(t), BuildInput{ExportID: task.ID})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)

	_, err = Build(f.ctx, f.buildDeps(t), BuildInput{ExportID: uuid.New()})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestArchiveUniqueNames(t *testing.T) {
	a := &archive{names: map[string]int{}}
	assert.Equal(t, "media/a.jpg", a.unique("media/a.jpg"))
	assert.Equal(t, "media/a_2.jpg", a.unique("media/a.jpg"))
	assert.Equal(t, "media/a_3.jpg", a.unique("media/a.jpg"))
	assert.Equal(t, "media/noext", a.unique("media/noext"))
	assert.Equal(t, "media/noext_2", a.unique("media/noext"))
}

func TestMediaNameStripsDirectories(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	assert.Equal(t, "b.mp4", mediaName(&types.MediaItem{OriginalFilename: "../x/b.mp4"}))
	assert.Equal(t, "c.jpg", mediaName(&types.MediaItem{OriginalFilename: `C:\pics\c.jpg`}))
	assert.Equal(t, id.String()+".mov", mediaName(&types.MediaItem{ID: id, StorageKey: "uploads/f/m/x.mov"}))
}

func TestRequestPersistsAndDispatches(t *testing.T) {
	f := newFixture(t)
	var dispatched *types.ProcessingTask
	task, err := Request(f.ctx, RequestDeps{
		DB:       f.db,
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Tasks:    f.repos.Tasks,
		Enqueue: func(_ context.Context, task *types.ProcessingTask) error {
			dispatched = task
			return nil
		},
	}, RequestInput{ChildID: f.child.ID})
	require.NoError(t, err)
	require.NotNil(t, dispatched)
	assert.Equal(t, task.ID, dispatched.ID)

	st, err := GetStatus(f.ctx, StatusDeps{Tasks: f.repos.Tasks}, task.ID)
	require.NoError(t, err)
	assert.Equal(t, media.TaskQueued, st.Status)
	assert.Equal(t, f.child.ID, st.ChildID)

	_, err = DownloadURL(f.ctx, DownloadDeps{Tasks: f.repos.Tasks, Store: f.store}, task.ID)
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestRequestDispatchFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	_, err := Request(f.ctx, RequestDeps{
		DB:       f.db,
		Children: f.repos.Children,
		Tasks:    f.repos.Tasks,
		Enqueue:  func(context.Context, *types.ProcessingTask) error { return errors.New("queue down") },
	}, RequestInput{ChildID: f.child.ID})
	require.Error(t, err)

	tasks, err := f.repos.Tasks.ListByChild(dbctx.Background(f.ctx), f.child.ID, media.TaskExport)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, media.TaskFailed, tasks[0].Status)
	assert.Equal(t, "queue down", tasks[0].ErrorMessage)
}

func TestRequestUnknownChild(t *testing.T) {
	f := newFixture(t)
	_, err := Request(f.ctx, RequestDeps{
		DB:       f.db,
		Children: f.repos.Children,
		Tasks:    f.repos.Tasks,
		Enqueue:  func(context.Context, *types.ProcessingTask) error { return nil },
	}, RequestInput{ChildID: uuid.New()})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestDownloadURLForCompletedExport(t *testing.T) {
	f := newFixture(t)
	task := f.exportTask(t)
	out, err := Build(f.ctx, f.buildDeps(t), BuildInput{ExportID: task.ID})
	require.NoError(t, err)
	require.NoError(t, f.repos.Tasks.UpdateFields(dbctx.Background(f.ctx), task.ID, map[string]interface{}{"status": media.TaskCompleted}))

	u, err := DownloadURL(f.ctx, DownloadDeps{Tasks: f.repos.Tasks, Store: f.store, TTL: time.Minute}, task.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://files.test/"), u)
	assert.Contains(t, u, "expires=")
	assert.Contains(t, u, task.ID.String())
	_ = out
}
