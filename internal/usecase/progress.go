package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"PageHarvester/internal/domain"
)

// Stage is the pipeline state a run is in.
type Stage string

const (
	StageIdle       Stage = "idle"
	StagePreActions Stage = "pre_actions"
	StageExtracting Stage = "extracting"
	StageProcessing Stage = "processing"
	StageDelivering Stage = "delivering"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

const maxTrackedRuns = 100

// Progress is the live status of one run. It is safe for concurrent use;
// the pipeline writes and the dashboard reads snapshots.
type Progress struct {
	mu   sync.Mutex
	snap ProgressSnapshot
	done chan struct{}
}

// ProgressSnapshot is a point-in-time copy of a run's progress.
type ProgressSnapshot struct {
	RunID      string           `json:"run_id"`
	JobID      int64            `json:"job_id"`
	Stage      Stage            `json:"stage"`
	Status     domain.RunStatus `json:"status,omitempty"`
	Counts     domain.RunCounts `json:"counts"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// NewProgress creates an idle progress handle with a fresh run id.
func NewProgress(jobID int64) *Progress {
	return &Progress{
		snap: ProgressSnapshot{
			RunID:     uuid.NewString(),
			JobID:     jobID,
			Stage:     StageIdle,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
}

// RunID returns the run identifier.
func (p *Progress) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.RunID
}

// Snapshot copies the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Done is closed when the run reaches a terminal stage.
func (p *Progress) Done() <-chan struct{} {
	return p.done
}

func (p *Progress) setStage(s Stage) {
	p.mu.Lock()
	p.snap.Stage = s
	p.mu.Unlock()
}

func (p *Progress) setCounts(c domain.RunCounts) {
	p.mu.Lock()
	p.snap.Counts = c
	p.mu.Unlock()
}

func (p *Progress) setPages(n int) {
	p.mu.Lock()
	p.snap.Counts.PagesProcessed = n
	p.mu.Unlock()
}

func (p *Progress) finish(status domain.RunStatus, counts domain.RunCounts, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.FinishedAt != nil {
		return
	}
	now := time.Now()
	p.snap.Status = status
	p.snap.Counts = counts
	p.snap.FinishedAt = &now
	p.snap.Stage = StageCompleted
	if status == domain.RunFailed {
		p.snap.Stage = StageFailed
	}
	if err != nil {
		p.snap.Error = err.Error()
	}
	close(p.done)
}

// runTracker keeps the most recent progress handles by run id.
type runTracker struct {
	mu    sync.Mutex
	runs  map[string]*Progress
	order []string
}

func newRunTracker() *runTracker {
	return &runTracker{runs: make(map[string]*Progress)}
}

func (t *runTracker) add(p *Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := p.RunID()
	t.runs[id] = p
	t.order = append(t.order, id)
	for len(t.order) > maxTrackedRuns {
		delete(t.runs, t.order[0])
		t.order = t.order[1:]
	}
}

func (t *runTracker) get(id string) (*Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.runs[id]
	return p, ok
}
