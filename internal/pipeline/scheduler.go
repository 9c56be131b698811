package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"jobdigest/internal/common/logger"
	"jobdigest/internal/common/metrics"
	"jobdigest/internal/models"
)

// TickRunner is the unit the scheduler drives once per interval.
type TickRunner interface {
	RunTick(ctx context.Context) (models.TickReport, error)
}

// Scheduler fires the pipeline on a fixed interval. A tick that is still
// running when the next one fires causes the new tick to be skipped, never
// overlapped.
type Scheduler struct {
	cron       *cron.Cron
	job        cron.Job // tick wrapped in the recover chain
	runner     TickRunner
	interval   int // hours
	runOnStart bool
	inFlight   atomic.Bool
	logger     logger.Logger
}

// printfAdapter lets cron log through the service logger.
type printfAdapter struct {
	log logger.Logger
}

func (p printfAdapter) Printf(format string, args ...interface{}) {
	p.log.Info(fmt.Sprintf(format, args...), nil)
}

func NewScheduler(runner TickRunner, intervalHours int, runOnStart bool, log logger.Logger) *Scheduler {
	s := &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		interval:   intervalHours,
		runOnStart: runOnStart,
		logger:     log,
	}
	// Every tick, including the run-on-start one, goes through the same
	// recover chain: a panicking run is logged, never fatal.
	s.job = cron.NewChain(
		cron.Recover(cron.PrintfLogger(printfAdapter{log: log})),
	).Then(cron.FuncJob(s.tick))
	return s
}

// Start registers the schedule and launches the cron loop. With runOnStart
// set, one tick fires immediately instead of waiting a full interval.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %dh", s.interval)
	if _, err := s.cron.AddJob(spec, s.job); err != nil {
		return fmt.Errorf("register schedule %q: %w", spec, err)
	}

	if s.runOnStart {
		go s.job.Run()
	}

	s.cron.Start()
	s.logger.Info("scheduler started", map[string]interface{}{
		"intervalHours": s.interval,
		"runOnStart":    s.runOnStart,
	})
	return nil
}

func (s *Scheduler) tick() {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		s.logger.Warn("previous run still in flight, skipping tick", nil)
		return
	}
	defer s.inFlight.Store(false)

	if _, err := s.runner.RunTick(context.Background()); err != nil {
		s.logger.Error("run failed", map[string]interface{}{"error": err.Error()})
	}
}

// Stop halts the cron loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped", nil)
}
