package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"PageHarvester/internal/actions"
	"PageHarvester/internal/dedup"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/message"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/retry"
)

const defaultSendTimeout = 10 * time.Second

// Metrics observes finished runs.
type Metrics interface {
	ObserveRun(job domain.Job, entry domain.ExecutionLog)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Store    ports.Store
	Registry *extractor.Registry
	Actions  *actions.Executor
	Screen   ports.Screen
	Notifier ports.Notifier
	Metrics  Metrics
	Logger   *slog.Logger

	// FocusRetry bounds attempts to bring the browser to the foreground.
	FocusRetry  retry.Config
	SendTimeout time.Duration
	Now         func() time.Time
}

// Pipeline runs jobs: pre-actions, extraction, deduplication, storage and
// delivery. Runs are serialized because they share one screen and browser.
type Pipeline struct {
	store       ports.Store
	registry    *extractor.Registry
	dedup       *dedup.Deduplicator
	actions     *actions.Executor
	screen      ports.Screen
	notifier    ports.Notifier
	metrics     Metrics
	logger      *slog.Logger
	focusRetry  retry.Config
	sendTimeout time.Duration
	now         func() time.Time

	runMu sync.Mutex
	runs  *runTracker
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	focusRetry := deps.FocusRetry
	if focusRetry.MaxAttempts == 0 {
		focusRetry = retry.DefaultConfig()
	}
	sendTimeout := deps.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	registry := deps.Registry
	if registry == nil {
		registry = extractor.NewRegistry()
	}
	return &Pipeline{
		store:       deps.Store,
		registry:    registry,
		dedup:       dedup.New(deps.Store),
		actions:     deps.Actions,
		screen:      deps.Screen,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      logger,
		focusRetry:  focusRetry,
		sendTimeout: sendTimeout,
		now:         now,
		runs:        newRunTracker(),
	}
}

// run is the mutable state of one execution.
type run struct {
	job              domain.Job
	progress         *Progress
	logger           *slog.Logger
	counts           domain.RunCounts
	deliveryFailures int
}

func (r *run) update() {
	r.progress.setCounts(r.counts)
}

// StartJob runs a job in the background and returns its progress handle.
// ctx bounds the run, not the call.
func (p *Pipeline) StartJob(ctx context.Context, jobID int64) *Progress {
	progress := NewProgress(jobID)
	p.runs.add(progress)
	go func() {
		if _, err := p.RunJob(ctx, jobID, progress); err != nil {
			p.logger.Warn("background run failed", "job_id", jobID, "run_id", progress.RunID(), "error", err)
		}
	}()
	return progress
}

// Progress looks up a run started with StartJob.
func (p *Pipeline) Progress(runID string) (ProgressSnapshot, bool) {
	pr, ok := p.runs.get(runID)
	if !ok {
		return ProgressSnapshot{}, false
	}
	return pr.Snapshot(), true
}

// RunJob executes one job end to end and returns the finalized log entry.
// A skipped run returns a nil error.
func (p *Pipeline) RunJob(ctx context.Context, jobID int64, progress *Progress) (entry domain.ExecutionLog, err error) {
	if progress == nil {
		progress = NewProgress(jobID)
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			err = domain.NewError(domain.KindConfig, fmt.Sprintf("job %d does not exist", jobID), err)
		}
		progress.finish(domain.RunFailed, domain.RunCounts{}, err)
		return domain.ExecutionLog{JobID: jobID, Status: domain.RunFailed, ErrorMessage: err.Error()}, err
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := p.now()
	logID, err := p.store.StartExecutionLog(ctx, job.ID, started)
	if err != nil {
		err = domain.NewError(domain.KindFatal, "start execution log", err)
		progress.finish(domain.RunFailed, domain.RunCounts{}, err)
		return domain.ExecutionLog{JobID: job.ID, Status: domain.RunFailed, ErrorMessage: err.Error()}, err
	}

	r := &run{
		job:      job,
		progress: progress,
		logger:   p.logger.With("job_id", job.ID, "job", job.Name, "run_id", progress.RunID()),
	}
	r.logger.Info("run started", "type", job.Type)

	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewError(domain.KindFatal, fmt.Sprintf("panic during run: %v", rec), nil)
		}
		entry, err = p.finalize(ctx, r, logID, started, err)
	}()

	return domain.ExecutionLog{}, p.execute(ctx, r)
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	job := r.job
	if err := job.Validate(); err != nil {
		return err
	}

	r.progress.setStage(StagePreActions)
	if err := p.prepare(ctx, r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.progress.setStage(StageExtracting)
	strategy, err := p.registry.ForJob(job)
	if err != nil {
		return err
	}
	result, err := strategy.Extract(ctx, extractor.Request{Job: job, OnPage: r.progress.setPages})
	r.counts.PagesProcessed = result.PagesProcessed
	r.counts.ItemsExtracted = len(result.Records)
	r.update()
	for _, w := range result.Warnings {
		r.logger.Warn("extraction warning", "strategy", strategy.Name(), "warning", w)
	}
	if err != nil {
		return err
	}
	r.logger.Info("extraction finished", "strategy", strategy.Name(),
		"items", r.counts.ItemsExtracted, "pages", r.counts.PagesProcessed)

	r.progress.setStage(StageProcessing)
	for _, record := range result.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.process(ctx, r, record); err != nil {
			return err
		}
	}
	return nil
}

// prepare focuses the browser and runs pre-extraction actions.
func (p *Pipeline) prepare(ctx context.Context, r *run) error {
	job := r.job
	needsScreen := job.Type == domain.JobTypeOCR || len(job.PreActions) > 0
	if needsScreen && p.screen != nil {
		if err := retry.Do(ctx, p.focusRetry, p.screen.Focus); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("browser focus failed, continuing", "error", err)
		}
	}
	if len(job.PreActions) == 0 {
		return nil
	}
	if p.actions == nil {
		return domain.NewError(domain.KindConfig, "job has pre-extraction actions but no action executor is configured", nil)
	}

	res, err := p.actions.Execute(ctx, job.PreActions)
	if err != nil {
		return err
	}
	r.logger.Info("pre-extraction actions done", "executed", res.Executed, "success", res.Success)
	if res.Stopped {
		last := res.Outcomes[len(res.Outcomes)-1]
		return domain.NewError(domain.KindFatal,
			fmt.Sprintf("pre-extraction action %d (%s) failed: %s", last.Index, last.Type, last.Error), nil)
	}
	return nil
}

// process classifies, stores and delivers one record.
func (p *Pipeline) process(ctx context.Context, r *run, record domain.Record) error {
	if record.Empty() {
		return nil
	}
	jobID := r.job.ID

	c := dedup.Classification{IsNew: true, Hash: dedup.Hash(record)}
	if r.job.Deduplicate {
		var err error
		c, err = p.dedup.Classify(ctx, jobID, record)
		if err != nil {
			return domain.NewError(domain.KindFatal, "classify record", err)
		}
	}
	if !c.IsNew {
		r.counts.ItemsDuplicate++
		r.update()
		return nil
	}

	id, err := p.dedup.StoreAndMark(ctx, jobID, c, record)
	if errors.Is(err, ports.ErrConflict) {
		r.counts.ItemsDuplicate++
		r.update()
		return nil
	}
	if err != nil {
		return domain.NewError(domain.KindFatal, "store record", err)
	}
	r.counts.ItemsNew++
	r.update()

	r.progress.setStage(StageDelivering)
	defer r.progress.setStage(StageProcessing)
	p.deliver(ctx, r, id, record)
	return nil
}

// deliver sends one stored record. Failures are counted, never retried.
func (p *Pipeline) deliver(ctx context.Context, r *run, recordID int64, record domain.Record) {
	if p.notifier == nil {
		return
	}
	text, unresolved := message.Render(r.job.Template, record)
	if len(unresolved) > 0 {
		r.logger.Warn("template placeholders without a field", "placeholders", unresolved)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	messageID, err := p.notifier.Send(sendCtx, r.job.Telegram, text)
	if err != nil {
		r.deliveryFailures++
		r.logger.Warn("delivery failed", "record_id", recordID, "error", err)
		return
	}
	r.counts.ItemsSent++
	r.update()
	if err := p.store.MarkDelivered(ctx, recordID, messageID); err != nil {
		r.logger.Error("mark delivered", "record_id", recordID, "error", err)
	}
}

// finalize writes the terminal log entry exactly once, even when ctx is done.
func (p *Pipeline) finalize(ctx context.Context, r *run, logID int64, started time.Time, runErr error) (domain.ExecutionLog, error) {
	writeCtx := context.WithoutCancel(ctx)
	completed := p.now()

	status := domain.RunSuccess
	switch {
	case errors.Is(runErr, extractor.ErrSkipped):
		status = domain.RunSkipped
	case runErr != nil:
		status = domain.RunFailed
	case r.deliveryFailures > 0:
		status = domain.RunPartial
	}

	entry := domain.ExecutionLog{
		ID:          logID,
		JobID:       r.job.ID,
		StartedAt:   started,
		CompletedAt: &completed,
		Duration:    completed.Sub(started).Seconds(),
		Status:      status,
		RunCounts:   r.counts,
	}
	if status == domain.RunFailed {
		entry.ErrorMessage = runErr.Error()
	}
	if err := p.store.CompleteExecutionLog(writeCtx, entry); err != nil {
		r.logger.Error("complete execution log", "error", err)
	}

	if status != domain.RunFailed {
		interval := time.Duration(max(r.job.IntervalHours, 1)) * time.Hour
		if err := p.store.UpdateJobLastRun(writeCtx, r.job.ID, completed, completed.Add(interval)); err != nil {
			r.logger.Error("update last run", "error", err)
		}
	}
	if (status == domain.RunSuccess || status == domain.RunPartial) && r.job.RetentionDays > 0 {
		cutoff := completed.AddDate(0, 0, -r.job.RetentionDays)
		if removed, err := p.store.CleanupOlderThan(writeCtx, r.job.ID, cutoff); err != nil {
			r.logger.Error("retention cleanup", "error", err)
		} else if removed > 0 {
			r.logger.Info("old records removed", "count", removed)
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveRun(r.job, entry)
	}

	var err error
	if status == domain.RunFailed {
		err = runErr
		r.logger.Error("run failed", "error", runErr, "kind", domain.KindOf(runErr),
			"extracted", r.counts.ItemsExtracted, "new", r.counts.ItemsNew)
	} else {
		r.logger.Info("run finished", "status", status, "extracted", r.counts.ItemsExtracted,
			"new", r.counts.ItemsNew, "duplicate", r.counts.ItemsDuplicate, "sent", r.counts.ItemsSent)
	}
	r.progress.finish(status, r.counts, err)
	return entry, err
}
