package domain

import "time"

// RunStatus is the outcome of one job run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// RunCounts are the counters written to the execution log.
type RunCounts struct {
	PagesProcessed int `json:"pages_processed" db:"pages_processed"`
	ItemsExtracted int `json:"items_extracted" db:"items_extracted"`
	ItemsNew       int `json:"items_new" db:"items_new"`
	ItemsDuplicate int `json:"items_duplicate" db:"items_duplicate"`
	ItemsSent      int `json:"items_sent" db:"items_sent"`
}

// ExecutionLog is one run's outcome. Created at start, finalized once.
type ExecutionLog struct {
	ID           int64      `json:"id" db:"id"`
	JobID        int64      `json:"job_id" db:"job_id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Duration     float64    `json:"duration_seconds" db:"duration_seconds"`
	Status       RunStatus  `json:"status" db:"status"`
	RunCounts    `json:"counts"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
}

// Stats aggregates dashboard counters.
type Stats struct {
	TotalJobs       int `json:"total_jobs" db:"total_jobs"`
	ActiveJobs      int `json:"active_jobs" db:"active_jobs"`
	TotalRecords    int `json:"total_records" db:"total_records"`
	RecordsLast24h  int `json:"records_last_24h" db:"records_last_24h"`
	FailedRuns24h   int `json:"failed_runs_last_24h" db:"failed_runs_last_24h"`
	SuccessRuns24h  int `json:"successful_runs_last_24h" db:"successful_runs_last_24h"`
	UndeliveredRecs int `json:"undelivered_records" db:"undelivered_records"`
}
