package runtime

import (
	"fmt"
	"sort"
	"sync"

	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
)

type Handler interface {
	Type() string
	Run(ctx *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for job_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

/*
Execute runs the handler registered for the job inside jc.
Guarantees:
	- A missing handler or a panic fails the job permanently
	- A handler that returns an error without failing the job is failed here
	- A handler that returns nil without a terminal status is marked succeeded
*/
func (r *Registry) Execute(jc *Context) (err error) {
	h, ok := r.Get(jc.Job.JobType)
	if !ok {
		err = fmt.Errorf("no handler registered for job_type=%s", jc.Job.JobType)
		jc.Fail("dispatch", err, true)
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			jc.Log.Error("Job handler panic", "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
			jc.Fail("panic", err, true)
		}
	}()
	if err = h.Run(jc); err != nil {
		if jc.Job.Status != jobdomain.StatusFailed {
			jc.Fail("run", err, false)
		}
		return err
	}
	if jc.Job.Status == jobdomain.StatusRunning || jc.Job.Status == jobdomain.StatusQueued {
		jc.Succeed("done", nil)
	}
	return nil
}
