package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"PageHarvester/internal/ports"
)

// Scheduler keeps the interval driver in sync with the active jobs and
// routes ticks into the pipeline.
type Scheduler struct {
	driver   ports.Scheduler
	jobs     ports.JobRepository
	pipeline *Pipeline
	logger   *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	scheduled map[int64]bool
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, jobs ports.JobRepository, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:    driver,
		jobs:      jobs,
		pipeline:  pipeline,
		logger:    logger,
		ctx:       context.Background(),
		scheduled: make(map[int64]bool),
	}
}

// Start registers every active job and starts the driver. Runs triggered
// by the driver are bound to ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		return err
	}
	return s.driver.Start(ctx)
}

// Reload re-registers all active jobs and drops the rest.
func (s *Scheduler) Reload(ctx context.Context) error {
	active, err := s.jobs.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("load active jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[int64]bool, len(active))
	for _, job := range active {
		if err := s.driver.Schedule(job, s.trigger); err != nil {
			s.logger.Error("schedule job", "job_id", job.ID, "error", err)
			continue
		}
		keep[job.ID] = true
	}
	for id := range s.scheduled {
		if !keep[id] {
			s.driver.Unschedule(id)
		}
	}
	s.scheduled = keep
	s.logger.Info("schedules reloaded", "jobs", len(keep))
	return nil
}

// ReloadJob refreshes one job after it was created, updated, toggled or deleted.
func (s *Scheduler) ReloadJob(ctx context.Context, jobID int64) error {
	if s.driver == nil {
		return nil
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil || !job.Active {
		s.driver.Unschedule(jobID)
		delete(s.scheduled, jobID)
		return nil
	}
	if err := s.driver.Schedule(job, s.trigger); err != nil {
		return fmt.Errorf("schedule job %d: %w", jobID, err)
	}
	s.scheduled[jobID] = true
	return nil
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

func (s *Scheduler) trigger(jobID int64) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.pipeline.RunJob(ctx, jobID, nil); err != nil {
		s.logger.Warn("scheduled run failed", "job_id", jobID, "error", err)
	}
}
