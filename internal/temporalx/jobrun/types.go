package jobrun

import "time"

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
)

// TickResult is the job_run state after one tick.
type TickResult struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	Progress    int        `json:"progress,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       string     `json:"error,omitempty"`
	RunAfter    *time.Time `json:"run_after,omitempty"`
	// Ran is false when the job was not claimable on this tick.
	Ran bool `json:"ran"`
}

// Exhausted reports whether a failed job has no attempts left.
func (r TickResult) Exhausted() bool { return r.Attempts >= r.MaxAttempts }
