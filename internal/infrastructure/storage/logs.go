package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

type logRow struct {
	ID             int64   `db:"id"`
	JobID          int64   `db:"job_id"`
	StartedAt      string  `db:"started_at"`
	CompletedAt    *string `db:"completed_at"`
	Duration       float64 `db:"duration_seconds"`
	Status         string  `db:"status"`
	PagesProcessed int     `db:"pages_processed"`
	ItemsExtracted int     `db:"items_extracted"`
	ItemsNew       int     `db:"items_new"`
	ItemsDuplicate int     `db:"items_duplicate"`
	ItemsSent      int     `db:"items_sent"`
	ErrorMessage   string  `db:"error_message"`
}

// StartExecutionLog opens a running log entry.
func (s *SQLiteStore) StartExecutionLog(ctx context.Context, jobID int64, startedAt time.Time) (int64, error) {
	query, args, err := s.sb.Insert("execution_log").
		Columns("job_id", "started_at", "status").
		Values(jobID, formatTime(startedAt), string(domain.RunRunning)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build start log: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("start log: %w", err)
	}
	return res.LastInsertId()
}

// CompleteExecutionLog finalizes a running entry. Entries are finalized once;
// a second call returns ports.ErrNotFound.
func (s *SQLiteStore) CompleteExecutionLog(ctx context.Context, entry domain.ExecutionLog) error {
	completed := time.Now()
	if entry.CompletedAt != nil {
		completed = *entry.CompletedAt
	}
	query, args, err := s.sb.Update("execution_log").SetMap(map[string]any{
		"completed_at":     formatTime(completed),
		"duration_seconds": entry.Duration,
		"status":           string(entry.Status),
		"pages_processed":  entry.PagesProcessed,
		"items_extracted":  entry.ItemsExtracted,
		"items_new":        entry.ItemsNew,
		"items_duplicate":  entry.ItemsDuplicate,
		"items_sent":       entry.ItemsSent,
		"error_message":    entry.ErrorMessage,
	}).Where(sq.Eq{"id": entry.ID, "status": string(domain.RunRunning)}).ToSql()
	if err != nil {
		return fmt.Errorf("build complete log: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete log: %w", err)
	}
	return expectAffected(res, "running execution log", entry.ID)
}

// ListExecutionLogs returns the newest logs; jobID 0 lists every job.
func (s *SQLiteStore) ListExecutionLogs(ctx context.Context, jobID int64, limit int) ([]domain.ExecutionLog, error) {
	b := s.sb.Select("id", "job_id", "started_at", "completed_at", "duration_seconds", "status",
		"pages_processed", "items_extracted", "items_new", "items_duplicate", "items_sent", "error_message").
		From("execution_log").
		OrderBy("started_at DESC", "id DESC")
	if jobID > 0 {
		b = b.Where(sq.Eq{"job_id": jobID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list logs: %w", err)
	}
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	out := make([]domain.ExecutionLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ExecutionLog{
			ID:          r.ID,
			JobID:       r.JobID,
			StartedAt:   parseTime(r.StartedAt),
			CompletedAt: parseTimePtr(r.CompletedAt),
			Duration:    r.Duration,
			Status:      domain.RunStatus(r.Status),
			RunCounts: domain.RunCounts{
				PagesProcessed: r.PagesProcessed,
				ItemsExtracted: r.ItemsExtracted,
				ItemsNew:       r.ItemsNew,
				ItemsDuplicate: r.ItemsDuplicate,
				ItemsSent:      r.ItemsSent,
			},
			ErrorMessage: r.ErrorMessage,
		})
	}
	return out, nil
}

type counter struct {
	dst   *int
	query sq.SelectBuilder
}

// Stats aggregates dashboard counters relative to now.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	since := formatTime(now.Add(-24 * time.Hour))
	count := func(table string) sq.SelectBuilder {
		return s.sb.Select("COUNT(1)").From(table)
	}

	var st domain.Stats
	counters := []counter{
		{&st.TotalJobs, count("jobs")},
		{&st.ActiveJobs, count("jobs").Where(sq.Eq{"active": 1})},
		{&st.TotalRecords, count("extracted_data")},
		{&st.RecordsLast24h, count("extracted_data").Where(sq.GtOrEq{"extracted_at": since})},
		{&st.UndeliveredRecs, count("extracted_data").Where(sq.Eq{"sent_to_telegram": 0})},
		{&st.FailedRuns24h, count("execution_log").Where(sq.Eq{"status": string(domain.RunFailed)}).Where(sq.GtOrEq{"started_at": since})},
		{&st.SuccessRuns24h, count("execution_log").Where(sq.Eq{"status": string(domain.RunSuccess)}).Where(sq.GtOrEq{"started_at": since})},
	}

	for _, c := range counters {
		query, args, err := c.query.ToSql()
		if err != nil {
			return st, fmt.Errorf("build stats: %w", err)
		}
		if err := s.db.GetContext(ctx, c.dst, query, args...); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

var _ ports.ExecutionLogRepository = (*SQLiteStore)(nil)
