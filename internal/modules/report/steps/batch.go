package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type BatchDeps struct {
	Log      *logger.Logger
	Children repos.ChildRepo
	// Generate produces (or enqueues) one child's report.
	Generate func(ctx context.Context, childID uuid.UUID, month time.Time) error
}

type BatchInput struct {
	Month time.Time
}

type BatchFailure struct {
	ChildID uuid.UUID `json:"child_id"`
	Error   string    `json:"error"`
}

type BatchOutput struct {
	Children  int            `json:"children"`
	Succeeded int            `json:"succeeded"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// GenerateBatch runs Generate for every known child. A failing or panicking child is
// recorded and the loop moves on.
func GenerateBatch(ctx context.Context, deps BatchDeps, in BatchInput) (BatchOutput, error) {
	out := BatchOutput{}
	if deps.Children == nil || deps.Generate == nil {
		return out, fmt.Errorf("report_batch: missing deps")
	}
	log := logger.OrNop(deps.Log).With("step", "report_batch")

	children, err := deps.Children.ListAll(dbctx.Context{Ctx: ctx})
	if err != nil {
		return out, fmt.Errorf("report_batch: list children: %w", err)
	}
	out.Children = len(children)

	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := runIsolated(ctx, deps.Generate, c.ID, in.Month); err != nil {
			log.Warn("Report generation failed for child", "child_id", c.ID.String(), "error", err)
			out.Failures = append(out.Failures, BatchFailure{ChildID: c.ID, Error: err.Error()})
			continue
		}
		out.Succeeded++
	}
	log.Info("Report batch finished", "children", out.Children, "succeeded", out.Succeeded, "failed", len(out.Failures))
	return out, nil
}

func runIsolated(ctx context.Context, fn func(context.Context, uuid.UUID, time.Time) error, childID uuid.UUID, month time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, childID, month)
}
