package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// CronScheduler fires each job every IntervalHours. A tick is skipped while
// the previous run of the same job is still going.
type CronScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	unit   time.Duration

	mu      sync.Mutex
	entries map[int64]cron.EntryID
	started bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds an idle scheduler.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &CronScheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		unit:    time.Hour,
		entries: make(map[int64]cron.EntryID),
	}
}

// Schedule registers or replaces the job's entry.
func (c *CronScheduler) Schedule(job domain.Job, run func(jobID int64)) error {
	if run == nil {
		return fmt.Errorf("schedule job %d: nil run func", job.ID)
	}
	hours := job.IntervalHours
	if hours <= 0 {
		hours = domain.DefaultIntervalHours
	}
	every := time.Duration(hours) * c.unit

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[job.ID]; ok {
		c.cron.Remove(old)
	}
	jobID := job.ID
	id := c.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		c.logger.Info("cron triggered", "job_id", jobID)
		run(jobID)
	}))
	c.entries[jobID] = id
	c.logger.Info("job scheduled", "job_id", jobID, "name", job.Name, "every", every.String())
	return nil
}

// Unschedule drops the job's entry if present.
func (c *CronScheduler) Unschedule(jobID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.entries[jobID]; ok {
		c.cron.Remove(id)
		delete(c.entries, jobID)
		c.logger.Info("job unscheduled", "job_id", jobID)
	}
}

// NextRun reports when the job fires next. Zero before Start.
func (c *CronScheduler) NextRun(jobID int64) (time.Time, bool) {
	c.mu.Lock()
	id, ok := c.entries[jobID]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return c.cron.Entry(id).Next, true
}

// Scheduled returns the ids of scheduled jobs.
func (c *CronScheduler) Scheduled() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Start runs the cron loop in the background.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.cron.Start()
	c.started = true
	return nil
}

// Stop halts new ticks and waits for running jobs or ctx, whichever is first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
