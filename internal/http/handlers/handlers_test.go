package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/services"
)

type fakeMedia struct {
	services.MediaService
	upload services.UploadInput
	err    error
}

func (f *fakeMedia) Upload(_ dbctx.Context, in services.UploadInput) (*types.MediaItem, *types.ProcessingTask, error) {
	f.upload = in
	if f.err != nil {
		return nil, nil, f.err
	}
	return &types.MediaItem{ID: uuid.New(), Kind: mediadomain.KindVideo, Status: mediadomain.StatusPending},
		&types.ProcessingTask{ID: uuid.New(), Kind: mediadomain.TaskPreprocess, Status: mediadomain.TaskQueued}, nil
}

func (f *fakeMedia) Status(_ dbctx.Context, id uuid.UUID) (*services.MediaStatus, error) {
	return nil, apierr.NotFound("media", id)
}

type fakeReports struct {
	services.ReportService
	month    time.Time
	from, to time.Time
	missing  uuid.UUID
}

func (f *fakeReports) Generate(_ dbctx.Context, childID uuid.UUID, month time.Time) (*services.GenerateResult, error) {
	f.month = month
	return &services.GenerateResult{Created: true, Report: &services.ReportView{Report: &types.MonthlyReport{ChildID: childID, ReportMonth: growth.MonthKey(month)}}}, nil
}

func (f *fakeReports) Timeline(_ dbctx.Context, _ uuid.UUID, from, to time.Time) ([]report.TimelineMonth, error) {
	f.from, f.to = from, to
	return []report.TimelineMonth{}, nil
}

func (f *fakeReports) Initiative(_ dbctx.Context, childID uuid.UUID) ([]growth.InitiativePoint, error) {
	if childID == f.missing {
		return nil, apierr.NotFound("child", childID)
	}
	return []growth.InitiativePoint{{Date: "2024-05-10", InitiativeScore: 0.7, IndependentActionCount: 7}}, nil
}

type fakeExports struct {
	services.ExportService
	url string
	err error
}

func (f *fakeExports) DownloadURL(dbctx.Context, uuid.UUID) (string, error) { return f.url, f.err }

func (f *fakeExports) Status(_ dbctx.Context, id uuid.UUID) (export.Status, error) {
	return export.Status{ExportID: id, Status: mediadomain.TaskRunning}, nil
}

type fakeFaces struct{ found bool }

func (f fakeFaces) Register(dbctx.Context, uuid.UUID, []byte) (bool, error) { return f.found, nil }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestMediaUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeMedia{}
	r := gin.New()
	r.POST("/api/media", NewMediaHandler(nil, svc, 0).Upload)

	family, c1, c2 := uuid.New(), uuid.New(), uuid.New()
	body, ct := multipartBody(t, map[string]string{
		"family_id":   family.String(),
		"child_ids":   c1.String() + "," + c2.String(),
		"captured_at": "2024-05-03T10:00:00Z",
	}, "file", "clip.mp4", []byte("\x00\x00\x00\x18ftypmp42"))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", ct)

	rec := serve(r, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, family, svc.upload.FamilyID)
	assert.Equal(t, []uuid.UUID{c1, c2}, svc.upload.ChildIDs)
	assert.Equal(t, "clip.mp4", svc.upload.Filename)
	require.NotNil(t, svc.upload.CapturedAt)
	assert.Equal(t, 2024, svc.upload.CapturedAt.Year())
}

func TestMediaUploadRejectsBadForm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/media", NewMediaHandler(nil, &fakeMedia{}, 0).Upload)

	body, ct := multipartBody(t, map[string]string{"family_id": "nope"}, "file", "a.jpg", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_family_id", errorCode(t, rec))

	body, ct = multipartBody(t, map[string]string{"family_id": uuid.NewString()}, "", "", nil)
	req = httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", ct)
	rec = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_file", errorCode(t, rec))
}

func TestMediaGetMapsErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/media/:id", NewMediaHandler(nil, &fakeMedia{}, 0).Get)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/media/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/media/123", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", errorCode(t, rec))
}

func TestReportGenerateAndTimeline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeReports{}
	h := NewReportHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	r := gin.New()
	r.POST("/api/children/:id/reports", h.Generate)
	r.GET("/api/children/:id/timeline", h.Timeline)
	child := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/api/children/"+child+"/reports", bytes.NewBufferString(`{"month":"2024-05"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(r, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-05-01", growth.MonthKey(svc.month))

	rec = serve(r, httptest.NewRequest(http.MethodPost, "/api/children/"+child+"/reports?month=2024-13", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", errorCode(t, rec))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/children/"+child+"/timeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2023-07-01", growth.MonthKey(svc.from))
	assert.Equal(t, "2024-06-01", growth.MonthKey(svc.to))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/children/"+child+"/timeline?from=2024-06&to=2024-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportInitiative(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeReports{missing: uuid.New()}
	r := gin.New()
	r.GET("/api/children/:id/initiative", NewReportHandler(nil, svc).Initiative)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/children/"+uuid.NewString()+"/initiative", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"independent_action_count":7`)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/children/"+svc.missing.String()+"/initiative", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/children/nope/initiative", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeExports{url: "https://storage.example/exports/a.zip?sig=1"}
	h := NewExportHandler(nil, svc)
	r := gin.New()
	r.GET("/api/exports/:id", h.Status)
	r.GET("/api/exports/:id/download", h.Download)
	id := uuid.NewString()

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://storage.example/exports/a.zip?sig=1"}`, rec.Body.String())

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/download?redirect=1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, svc.url, rec.Header().Get("Location"))

	svc.err = errors.Join(errors.New("export is running"), apierr.ErrConflict)
	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/download", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/exports/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)
}

func TestFaceRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	child := uuid.NewString()
	for _, tc := range []struct {
		found bool
		want  int
	}{{true, http.StatusOK}, {false, http.StatusUnprocessableEntity}} {
		r := gin.New()
		r.POST("/api/children/:id/faces", NewFaceHandler(nil, fakeFaces{found: tc.found}).Register)
		body, ct := multipartBody(t, nil, "image", "face.jpg", []byte("jpeg"))
		req := httptest.NewRequest(http.MethodPost, "/api/children/"+child+"/faces", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, tc.want, serve(r, req).Code)
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthcheck", NewHealthHandler(nil).HealthCheck)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
