package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/modules/insight"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
	"github.com/yungbote/lifeprint-backend/internal/platform/redisx"
)

var may2024 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	repos repos.Set
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	return &fixture{db: db, repos: repos.NewSet(db, testutil.Logger(t)), ctx: context.Background()}
}

func (f *fixture) radarDeps(t *testing.T) RadarDeps {
	return RadarDeps{DB: f.db, Log: testutil.Logger(t), Media: f.repos.Media, Analyses: f.repos.Analyses}
}

func (f *fixture) assembleDeps(t *testing.T, w NarrativeWriter) AssembleDeps {
	return AssembleDeps{
		DB:       f.db,
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Media:    f.repos.Media,
		Analyses: f.repos.Analyses,
		Metrics:  f.repos.Metrics,
		Reports:  f.repos.Reports,
		Writer:   w,
	}
}

type fakeWriter struct {
	narratives atomic.Int32
	lastInput  insight.NarrativeInput
	mu         sync.Mutex
}

func (w *fakeWriter) Narrative(_ context.Context, in insight.NarrativeInput) string {
	w.narratives.Add(1)
	w.mu.Lock()
	w.lastInput = in
	w.mu.Unlock()
	return "narrative for " + in.ChildName
}

func (w *fakeWriter) Summary(context.Context, growth.RadarData, []growth.SparkCard) string {
	return "summary"
}

func seedMonth(t *testing.T, f *fixture, child uuid.UUID) {
	t.Helper()
	in := may2024.Add(3 * 24 * time.Hour)
	a := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, in, child)
	b := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, in.Add(time.Hour), child)
	testutil.SeedAnalysis(t, f.ctx, f.db, a.ID, &child, media.AnalysisBehavior,
		`{"activities":[{"type":"art"},{"type":"art"},{"type":"sport"},{"type":"dance"}]}`)
	testutil.SeedAnalysis(t, f.ctx, f.db, a.ID, &child, media.AnalysisCognition,
		`{"vocabulary_richness":0.4,"sentence_complexity":2.5}`)
	testutil.SeedAnalysis(t, f.ctx, f.db, b.ID, &child, media.AnalysisCognition,
		`{"vocabulary_richness":0.6,"sentence_complexity":5}`)
	testutil.SeedAnalysis(t, f.ctx, f.db, a.ID, &child, media.AnalysisEmotion, `{"dominant":"happy"}`)
	testutil.SeedAnalysis(t, f.ctx, f.db, b.ID, &child, media.AnalysisEmotion, `{"dominant":"angry"}`)

	// Next month and another child's media must not leak in.
	c := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, may2024.AddDate(0, 1, 0), child)
	testutil.SeedAnalysis(t, f.ctx, f.db, c.ID, &child, media.AnalysisEmotion, `{"dominant":"sad"}`)
	sibling := testutil.SeedChild(t, f.ctx, f.db, "Sibling", time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))
	other := testutil.SeedMedia(t, f.ctx, f.db, media.KindVideo, in, sibling.ID)
	testutil.SeedAnalysis(t, f.ctx, f.db, other.ID, &sibling.ID, media.AnalysisEmotion, `{"dominant":"sad"}`)
}

func TestComputeRadarScoresWindow(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	seedMonth(t, f, child.ID)

	out, err := ComputeRadar(f.ctx, f.radarDeps(t), RadarInput{ChildID: child.ID, Month: may2024.Add(20 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, out.MediaCount)

	r := out.Radar
	assert.Equal(t, 0.5, r.Interest.Art)
	assert.Equal(t, 0.25, r.Interest.Sport)
	assert.Equal(t, 0.0, r.Interest.Music)
	assert.InDelta(t, 0.5, r.Talent.Language, 1e-9)
	assert.InDelta(t, 0.75, r.Talent.Logic, 1e-9)
	assert.Equal(t, 0.0, r.Talent.Spatial)
	assert.Equal(t, 0.5, r.Psychology.Confidence)
	assert.InDelta(t, 2.0/30.0, r.Psychology.Resilience, 1e-12)
	assert.Equal(t, 0.0, r.Psychology.Empathy)
}

func TestComputeRadarIsIdempotent(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	seedMonth(t, f, child.ID)

	in := RadarInput{ChildID: child.ID, Month: may2024}
	first, err := ComputeRadar(f.ctx, f.radarDeps(t), in)
	require.NoError(t, err)
	second, err := ComputeRadar(f.ctx, f.radarDeps(t), in)
	require.NoError(t, err)

	a, err := json.Marshal(first.Radar)
	require.NoError(t, err)
	b, err := json.Marshal(second.Radar)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "radar differs: %s vs %s", a, b)
}

func TestComputeRadarEmptyMonthIsZero(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Leo", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	out, err := ComputeRadar(f.ctx, f.radarDeps(t), RadarInput{ChildID: child.ID, Month: may2024})
	require.NoError(t, err)
	assert.Equal(t, growth.RadarData{}, out.Radar)
	assert.Equal(t, 0, out.MediaCount)

	raw, err := json.Marshal(out.Radar)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"interest":{"sport":0,"music":0,"art":0,"learning":0,"social":0},
		"talent":{"logic":0,"spatial":0,"language":0,"motor":0},
		"psychology":{"empathy":0,"resilience":0,"confidence":0}
	}`, string(raw))
}

func TestAggregateRadarSkipsMalformedPayloads(t *testing.T) {
	recs := []*types.AnalysisRecord{
		{Kind: media.AnalysisEmotion, Payload: []byte(`{"dominant":"calm"}`)},
		{Kind: media.AnalysisEmotion, Payload: []byte(`not json`)},
		{Kind: media.AnalysisBehavior, Payload: []byte(`{"activities":[]}`)},
	}
	r := AggregateRadar(testutil.Logger(t), recs)
	assert.Equal(t, 1.0, r.Psychology.Confidence)
	assert.Equal(t, growth.InterestScores{}, r.Interest)
}

func seedFocus(t *testing.T, f *fixture, child uuid.UUID, talent string, values ...float64) {
	t.Helper()
	for i, v := range values {
		testutil.SeedMetric(t, f.ctx, f.db, child, growth.FocusMetricType(talent), v, may2024.AddDate(0, i, 0))
	}
}

func TestDetectSparksThreshold(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Ava", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	seedFocus(t, f, child.ID, growth.TalentLogic, 0.9, 0.8, 0.1)
	seedFocus(t, f, child.ID, growth.TalentSpatial, 0.7, 0.8, 0.9, 0.2)
	testutil.SeedMetric(t, f.ctx, f.db, child.ID, "height_cm", 0.99, may2024)

	cards, err := DetectSparks(f.ctx, SparkDeps{Metrics: f.repos.Metrics}, child.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	c := cards[0]
	assert.Equal(t, growth.TalentSpatial, c.Talent)
	assert.Equal(t, "空间想象", c.TalentName)
	assert.Equal(t, 3, c.MonthsDetected)
	assert.Equal(t, 0.65, c.Confidence)
	assert.Equal(t, "孩子在空间想象方面表现出持续的高专注度，建议提供更多相关的学习和探索机会。", c.Suggestion)
}

func TestInitiativeTrendNewestFirst(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Ava", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	testutil.SeedMetric(t, f.ctx, f.db, child.ID, growth.MetricInitiative, 0.35, may2024)
	testutil.SeedMetric(t, f.ctx, f.db, child.ID, growth.MetricInitiative, 0.72, may2024.AddDate(0, 0, 9))
	testutil.SeedMetric(t, f.ctx, f.db, child.ID, growth.FocusMetricType(growth.TalentLogic), 0.9, may2024)

	points, err := Initiative(f.ctx, MetricsDeps{Children: f.repos.Children, Metrics: f.repos.Metrics}, child.ID)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, growth.InitiativePoint{Date: "2024-05-10", InitiativeScore: 0.72, IndependentActionCount: 7}, points[0])
	assert.Equal(t, "2024-05-01", points[1].Date)
	assert.Equal(t, 3, points[1].IndependentActionCount)
}

func TestSparkCardsGroupsByTalent(t *testing.T) {
	rows := []*types.GrowthMetric{}
	for i := 0; i < SparkWindow+5; i++ {
		rows = append(rows, &types.GrowthMetric{MetricType: "focus_motor", Value: 0.1})
	}
	assert.Empty(t, SparkCards(rows))

	rows = append(rows[:0],
		&types.GrowthMetric{MetricType: "focus_motor", Value: 0.7},
		&types.GrowthMetric{MetricType: "focus_motor", Value: 0.7},
		&types.GrowthMetric{MetricType: "focus_language", Value: 1},
		&types.GrowthMetric{MetricType: "focus_motor", Value: 0.7},
		&types.GrowthMetric{MetricType: "focus_language", Value: 1},
		&types.GrowthMetric{MetricType: "focus_language", Value: 1},
	)
	cards := SparkCards(rows)
	require.Len(t, cards, 2)
	assert.Equal(t, growth.TalentLanguage, cards[0].Talent)
	assert.Equal(t, growth.TalentMotor, cards[1].Talent)
	assert.Equal(t, 0.7, cards[1].Confidence)
}

func TestAssembleCreatesReportOnce(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	seedMonth(t, f, child.ID)
	seedFocus(t, f, child.ID, growth.TalentLogic, 0.9, 0.9, 0.9)

	w := &fakeWriter{}
	deps := f.assembleDeps(t, w)
	deps.Now = func() time.Time { return may2024.Add(10 * 24 * time.Hour) }

	out, err := Assemble(f.ctx, deps, AssembleInput{ChildID: child.ID})
	require.NoError(t, err)
	require.True(t, out.Created)
	rep := out.Report
	assert.Equal(t, "2024-05-01", rep.ReportMonth)
	assert.Equal(t, "narrative for Mia", rep.Narrative)
	assert.Equal(t, "summary", rep.Summary)
	assert.Equal(t, 39, w.lastInput.AgeMonths)

	radar, err := rep.Radar()
	require.NoError(t, err)
	assert.Equal(t, 0.5, radar.Psychology.Confidence)
	sparks, err := rep.Sparks()
	require.NoError(t, err)
	require.Len(t, sparks, 1)
	assert.Equal(t, growth.TalentLogic, sparks[0].Talent)

	again, err := Assemble(f.ctx, deps, AssembleInput{ChildID: child.ID, Month: may2024})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, rep.ID, again.Report.ID)
	assert.EqualValues(t, 1, w.narratives.Load())
}

func TestAssembleConcurrentCallsProduceOneRow(t *testing.T) {
	for _, withLock := range []bool{false, true} {
		t.Run(map[bool]string{false: "no_lock", true: "memory_lock"}[withLock], func(t *testing.T) {
			f := newFixture(t)
			child := testutil.SeedChild(t, f.ctx, f.db, "Leo", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			deps := f.assembleDeps(t, &fakeWriter{})
			if withLock {
				deps.Locker = redisx.NewMemoryLocker()
			}

			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := Assemble(f.ctx, deps, AssembleInput{ChildID: child.ID, Month: may2024})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			var n int64
			require.NoError(t, f.db.Model(&types.MonthlyReport{}).Where("child_id = ?", child.ID).Count(&n).Error)
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestAssembleHeldLockIsNoop(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Ava", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := redisx.NewMemoryLocker()
	release, ok, err := locker.Acquire(f.ctx, "report:"+child.ID.String()+":2024-05-01", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	deps := f.assembleDeps(t, &fakeWriter{})
	deps.Locker = locker
	out, err := Assemble(f.ctx, deps, AssembleInput{ChildID: child.ID, Month: may2024})
	require.NoError(t, err)
	assert.True(t, out.InProgress)
	assert.False(t, out.Created)

	exists, err := f.repos.Reports.Exists(dbctx.Background(f.ctx), child.ID, "2024-05-01")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAssembleMissingChild(t *testing.T) {
	f := newFixture(t)
	_, err := Assemble(f.ctx, f.assembleDeps(t, nil), AssembleInput{ChildID: uuid.New(), Month: may2024})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestAssembleWithoutWriterUsesFallbacks(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Noah", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	out, err := Assemble(f.ctx, f.assembleDeps(t, nil), AssembleInput{ChildID: child.ID, Month: may2024})
	require.NoError(t, err)
	assert.Equal(t, insight.FallbackSummary, out.Report.Summary)
	assert.Equal(t, insight.FallbackNarrative("Noah"), out.Report.Narrative)
	assert.JSONEq(t, `[]`, string(out.Report.SparkCards))
}

func TestAssembleStoresRadarChart(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	seedMonth(t, f, child.ID)

	charts, err := NewChartRenderer("")
	require.NoError(t, err)
	store := objectstore.NewMemory("")
	deps := f.assembleDeps(t, &fakeWriter{})
	deps.Charts = charts
	deps.Store = store

	out, err := Assemble(f.ctx, deps, AssembleInput{ChildID: child.ID, Month: may2024})
	require.NoError(t, err)
	assert.Equal(t, "reports/"+child.ID.String()+"/2024-05.png", out.Report.ChartKey)

	png, err := store.Get(f.ctx, out.Report.ChartKey)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	assert.Equal(t, "image/png", store.ContentType(out.Report.ChartKey))
}

func TestGenerateBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	a := testutil.SeedChild(t, f.ctx, f.db, "A", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	b := testutil.SeedChild(t, f.ctx, f.db, "B", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	c := testutil.SeedChild(t, f.ctx, f.db, "C", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	var seen []uuid.UUID
	out, err := GenerateBatch(f.ctx, BatchDeps{
		Log:      testutil.Logger(t),
		Children: f.repos.Children,
		Generate: func(_ context.Context, id uuid.UUID, month time.Time) error {
			seen = append(seen, id)
			assert.Equal(t, may2024, month)
			switch id {
			case b.ID:
				return errors.New("llm down")
			case c.ID:
				panic("boom")
			}
			return nil
		},
	}, BatchInput{Month: may2024})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Children)
	assert.Equal(t, 1, out.Succeeded)
	require.Len(t, out.Failures, 2)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID, c.ID}, seen)
}

func TestTimelineCountsPerMonth(t *testing.T) {
	f := newFixture(t)
	child := testutil.SeedChild(t, f.ctx, f.db, "Mia", time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	seedMonth(t, f, child.ID)
	require.NoError(t, f.repos.Reports.Create(dbctx.Background(f.ctx), &types.MonthlyReport{ChildID: child.ID, ReportMonth: "2024-05-01"}))

	months, err := Timeline(f.ctx, TimelineDeps{Media: f.repos.Media, Analyses: f.repos.Analyses, Reports: f.repos.Reports},
		TimelineInput{ChildID: child.ID, From: may2024.AddDate(0, -1, 0), To: may2024.AddDate(0, 1, 0)})
	require.NoError(t, err)
	require.Len(t, months, 3)
	assert.Equal(t, "2024-04-01", months[0].Month)
	assert.Equal(t, 0, months[0].MediaCount)
	assert.Equal(t, 2, months[1].MediaCount)
	assert.Equal(t, 2, months[1].Analyses[media.AnalysisCognition])
	assert.Equal(t, 2, months[1].Analyses[media.AnalysisEmotion])
	assert.True(t, months[1].HasReport)
	assert.Equal(t, 1, months[2].MediaCount)
	assert.False(t, months[2].HasReport)

	_, err = Timeline(f.ctx, TimelineDeps{Media: f.repos.Media, Analyses: f.repos.Analyses, Reports: f.repos.Reports},
		TimelineInput{ChildID: child.ID, From: may2024, To: may2024.AddDate(0, -2, 0)})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
}

func TestChartKey(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, "reports/00000000-0000-0000-0000-000000000001/2024-01.png", ChartKey(id, "2024-01-01"))
}
