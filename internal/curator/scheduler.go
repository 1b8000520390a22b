package curator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives the curator on a cron schedule and accepts manual
// triggers. Overlapping runs are skipped: a run already in flight wins.
type Scheduler struct {
	cron    *cron.Cron
	curator *Curator
	logger  *zap.Logger
	running atomic.Bool
}

// NewScheduler registers the schedule (cron expression, e.g. "@daily").
func NewScheduler(schedule string, c *Curator, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{cron: cron.New(), curator: c, logger: logger}
	if _, err := s.cron.AddFunc(schedule, func() {
		s.run("scheduled")
	}); err != nil {
		return nil, fmt.Errorf("invalid curator schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduled execution.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("curator scheduler started")
}

// Stop halts scheduling and waits for a running invocation to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// TriggerAsync fires a manual run in the background. Returns false if a run
// is already in flight.
func (s *Scheduler) TriggerAsync() bool {
	if s.running.Load() {
		return false
	}
	go s.run("manual")
	return true
}

func (s *Scheduler) run(trigger string) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("curator run skipped, previous run still in flight",
			zap.String("trigger", trigger))
		return
	}
	defer s.running.Store(false)

	stats, err := s.curator.RunOnce(context.Background(), trigger)
	if err != nil {
		s.logger.Error("curator run failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	s.logger.Info("curator run complete",
		zap.String("trigger", trigger),
		zap.Int("candidates", stats.Candidates),
		zap.Int("consolidated", stats.Consolidated),
		zap.Int("processed", stats.Processed),
		zap.Int("deleted_duplicates", stats.DeletedDuplicates),
		zap.Int("errors", stats.Errors))
}
