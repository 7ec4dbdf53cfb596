package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// CronScheduler implements Scheduler on robfig/cron.
type CronScheduler struct {
	cron    *cron.Cron
	logger  *log.Logger
	baseCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*singleFlight
}

// NewCron creates a stopped CronScheduler.
func NewCron(logger *log.Logger) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:    cron.New(),
		logger:  logger.With("component", "scheduler"),
		baseCtx: ctx,
		cancel:  cancel,
		jobs:    map[string]*singleFlight{},
	}
}

func (s *CronScheduler) Register(spec, jobID string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[jobID]; dup {
		return fmt.Errorf("scheduler: duplicate job id %q", jobID)
	}
	sf := &singleFlight{jobID: jobID, task: task, logger: s.logger}
	if _, err := s.cron.AddFunc(spec, func() { sf.run(s.baseCtx) }); err != nil {
		return fmt.Errorf("scheduler: register %q with spec %q: %w", jobID, spec, err)
	}
	s.jobs[jobID] = sf
	s.logger.Info("job registered", "job", jobID, "spec", spec)
	return nil
}

func (s *CronScheduler) Start() {
	s.cron.Start()
}

func (s *CronScheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Scheduler = (*CronScheduler)(nil)
