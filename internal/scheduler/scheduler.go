// Package scheduler drives the periodic maintenance and backup jobs. Each
// job id is single-flight: a tick that arrives while the previous run is
// still going is skipped, but distinct jobs run concurrently.
package scheduler

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Task is one schedulable unit of work. Errors are reported, not retried.
type Task func(ctx context.Context) error

// Scheduler registers tasks against schedule expressions and runs them until
// Stop is called.
type Scheduler interface {
	// Register adds a task under jobID firing per spec (cron expression or a
	// descriptor like "@hourly"). Registration after Start is not supported.
	Register(spec, jobID string, task Task) error
	Start()
	// Stop cancels the timers and waits for in-flight runs to return.
	Stop(ctx context.Context) error
}

// singleFlight wraps a task so overlapping ticks of the same job are skipped.
type singleFlight struct {
	jobID   string
	task    Task
	logger  *log.Logger
	running sync.Mutex
}

func (s *singleFlight) run(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("skipping tick, previous run still in flight", "job", s.jobID)
		return
	}
	defer s.running.Unlock()
	if err := s.task(ctx); err != nil {
		s.logger.Error("job failed", "job", s.jobID, "error", err)
	}
}
