// Package scheduler retrains on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
)

// DefaultCron retrains weekly, Monday 03:00 UTC.
const DefaultCron = "0 3 * * 1"

// Job is one scheduled unit of work, usually a full training run.
type Job func(ctx context.Context) error

// Config controls when the job runs.
type Config struct {
	// Cron is a standard five-field expression or a descriptor such as
	// "@daily" or "@every 6h". Empty means DefaultCron.
	Cron string
	// RunOnStart runs the job once immediately instead of waiting for the
	// first scheduled time.
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler runs a Job on a cron schedule. Runs never overlap; a run that
// is still going when the next one is due makes that one wait.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       *gocron.Job
	run       Job
	cfg       Config
	logger    *slog.Logger

	runs     atomic.Int64
	failures atomic.Int64
}

// New creates a scheduler. It does not start it.
func New(cfg Config, run Job) *Scheduler {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		run:       run,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start registers the job and begins running it in the background. ctx is
// handed to every run; cancelling it stops in-flight runs but not the
// schedule itself, which Stop ends.
func (s *Scheduler) Start(ctx context.Context) error {
	chain := s.scheduler.Cron(s.cfg.Cron)
	if s.cfg.RunOnStart {
		chain = chain.StartImmediately()
	}
	job, err := chain.Do(s.execute, ctx)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Cron, err)
	}
	s.job = job

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "cron", s.cfg.Cron, "next_run", s.NextRun())
	return nil
}

// Stop ends the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info("scheduler stopped", "runs", s.Runs(), "failures", s.Failures())
}

// Wait blocks until ctx is done, then stops the scheduler.
func (s *Scheduler) Wait(ctx context.Context) {
	<-ctx.Done()
	s.Stop()
}

// NextRun returns the next scheduled time, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// Runs returns how many runs have finished.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Failures returns how many finished runs returned an error.
func (s *Scheduler) Failures() int64 { return s.failures.Load() }

func (s *Scheduler) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("scheduled run starting")
	err := s.run(ctx)
	s.runs.Add(1)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled run finished", "duration", time.Since(start), "next_run", s.NextRun())
}
