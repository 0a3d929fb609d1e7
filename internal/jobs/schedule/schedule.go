package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

const (
	DefaultReportSpec     = "0 2 1 * *"
	DefaultReportTimezone = "Asia/Shanghai"
)

// Scheduler fires the monthly report batch.
type Scheduler struct {
	log      *logger.Logger
	dispatch dispatch.Dispatcher
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	now      func() time.Time
}

func New(baseLog *logger.Logger, d dispatch.Dispatcher, spec, timezone string) (*Scheduler, error) {
	if d == nil {
		return nil, fmt.Errorf("schedule: missing dispatcher")
	}
	if strings.TrimSpace(spec) == "" {
		spec = DefaultReportSpec
	}
	if strings.TrimSpace(timezone) == "" {
		timezone = DefaultReportTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: timezone %q: %w", timezone, err)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", spec, err)
	}
	s := &Scheduler{
		log:      logger.OrNop(baseLog).With("component", "ReportScheduler"),
		dispatch: d,
		cron:     cron.New(cron.WithLocation(loc)),
		schedule: sched,
		loc:      loc,
		now:      time.Now,
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.TriggerBatch(context.Background()); err != nil {
			s.log.Error("Monthly report batch dispatch failed", "error", err)
		}
	}))
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Report scheduler started", "next_run", s.Next(s.now()).Format(time.RFC3339))
}

// Stop halts the scheduler and waits for a running trigger to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Report scheduler stopped")
}

// Next is the first fire time after t, in the scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// TriggerBatch dispatches report_batch for the month that closed before now.
func (s *Scheduler) TriggerBatch(ctx context.Context) (*types.JobRun, error) {
	month := ClosedMonth(s.now(), s.loc)
	s.log.Info("Dispatching monthly report batch", "month", growth.MonthKey(month))
	return s.dispatch.Dispatch(ctx, dispatch.Request{
		JobType: stagetask.JobReportBatch,
		Payload: map[string]any{"month": growth.MonthKey(month)},
	})
}

// ClosedMonth is the first day of the calendar month before the one containing now in loc.
func ClosedMonth(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0)
}
