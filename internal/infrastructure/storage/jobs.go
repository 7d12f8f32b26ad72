package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

var jobColumns = []string{
	"id", "name", "url", "job_type", "page_mode", "ocr_regions", "scroll_config",
	"pagination_config", "dom_config", "csv_config", "pre_extraction_actions",
	"format_template", "telegram_bot_token", "telegram_chat_id", "enable_deduplication",
	"data_retention_days", "schedule_interval_hours", "active", "last_run", "next_run",
	"created_at", "updated_at",
}

type jobRow struct {
	ID               int64   `db:"id"`
	Name             string  `db:"name"`
	URL              string  `db:"url"`
	JobType          string  `db:"job_type"`
	PageMode         string  `db:"page_mode"`
	Regions          string  `db:"ocr_regions"`
	ScrollConfig     string  `db:"scroll_config"`
	PaginationConfig string  `db:"pagination_config"`
	DOMConfig        string  `db:"dom_config"`
	CSVConfig        string  `db:"csv_config"`
	PreActions       string  `db:"pre_extraction_actions"`
	Template         string  `db:"format_template"`
	BotToken         string  `db:"telegram_bot_token"`
	ChatID           string  `db:"telegram_chat_id"`
	Deduplicate      bool    `db:"enable_deduplication"`
	RetentionDays    int     `db:"data_retention_days"`
	IntervalHours    int     `db:"schedule_interval_hours"`
	Active           bool    `db:"active"`
	LastRun          *string `db:"last_run"`
	NextRun          *string `db:"next_run"`
	CreatedAt        string  `db:"created_at"`
	UpdatedAt        string  `db:"updated_at"`
}

func (r jobRow) toDomain() (domain.Job, error) {
	job := domain.Job{
		ID:            r.ID,
		Name:          r.Name,
		URL:           r.URL,
		Type:          domain.JobType(r.JobType),
		PageMode:      domain.PageMode(r.PageMode),
		Template:      r.Template,
		Telegram:      domain.TelegramTarget{BotToken: r.BotToken, ChatID: r.ChatID},
		Deduplicate:   r.Deduplicate,
		RetentionDays: r.RetentionDays,
		IntervalHours: r.IntervalHours,
		Active:        r.Active,
		LastRun:       parseTimePtr(r.LastRun),
		NextRun:       parseTimePtr(r.NextRun),
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	blobs := []struct {
		name string
		raw  string
		dst  any
	}{
		{"ocr_regions", r.Regions, &job.Regions},
		{"scroll_config", r.ScrollConfig, &job.Scroll},
		{"pagination_config", r.PaginationConfig, &job.Pagination},
		{"dom_config", r.DOMConfig, &job.DOM},
		{"csv_config", r.CSVConfig, &job.CSV},
		{"pre_extraction_actions", r.PreActions, &job.PreActions},
	}
	for _, b := range blobs {
		if b.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(b.raw), b.dst); err != nil {
			return domain.Job{}, fmt.Errorf("decode %s of job %d: %w", b.name, r.ID, err)
		}
	}
	return job, nil
}

func jobValues(job domain.Job) (map[string]any, error) {
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	values := map[string]any{
		"name":                    job.Name,
		"url":                     job.URL,
		"job_type":                string(job.Type),
		"page_mode":               string(job.PageMode),
		"format_template":         job.Template,
		"telegram_bot_token":      job.Telegram.BotToken,
		"telegram_chat_id":        job.Telegram.ChatID,
		"enable_deduplication":    boolInt(job.Deduplicate),
		"data_retention_days":     job.RetentionDays,
		"schedule_interval_hours": job.IntervalHours,
		"active":                  boolInt(job.Active),
	}
	blobs := map[string]any{
		"ocr_regions":            nonNilRegions(job.Regions),
		"scroll_config":          job.Scroll,
		"pagination_config":      job.Pagination,
		"dom_config":             job.DOM,
		"csv_config":             job.CSV,
		"pre_extraction_actions": nonNilActions(job.PreActions),
	}
	for col, v := range blobs {
		s, err := enc(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col, err)
		}
		values[col] = s
	}
	return values, nil
}

func nonNilRegions(r []domain.Region) []domain.Region {
	if r == nil {
		return []domain.Region{}
	}
	return r
}

func nonNilActions(a []domain.Action) []domain.Action {
	if a == nil {
		return []domain.Action{}
	}
	return a
}

// CreateJob inserts a job and returns its id.
func (s *SQLiteStore) CreateJob(ctx context.Context, job domain.Job) (int64, error) {
	values, err := jobValues(job)
	if err != nil {
		return 0, err
	}
	now := formatTime(time.Now())
	values["created_at"] = now
	values["updated_at"] = now

	query, args, err := s.sb.Insert("jobs").SetMap(values).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("job %q: %w", job.Name, ports.ErrConflict)
		}
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return res.LastInsertId()
}

// UpdateJob replaces a job's configuration. Run bookkeeping is untouched.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job domain.Job) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	values["updated_at"] = formatTime(time.Now())

	query, args, err := s.sb.Update("jobs").SetMap(values).Where(sq.Eq{"id": job.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %q: %w", job.Name, ports.ErrConflict)
		}
		return fmt.Errorf("update job: %w", err)
	}
	return expectAffected(res, "job", job.ID)
}

// DeleteJob removes a job with its records and logs.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return expectAffected(res, "job", id)
}

// GetJob loads a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	return s.getJob(ctx, sq.Eq{"id": id}, fmt.Sprintf("job %d", id))
}

// GetJobByName loads a job by its unique name.
func (s *SQLiteStore) GetJobByName(ctx context.Context, name string) (domain.Job, error) {
	return s.getJob(ctx, sq.Eq{"name": name}, fmt.Sprintf("job %q", name))
}

func (s *SQLiteStore) getJob(ctx context.Context, where sq.Sqlizer, label string) (domain.Job, error) {
	query, args, err := s.sb.Select(jobColumns...).From("jobs").Where(where).ToSql()
	if err != nil {
		return domain.Job{}, fmt.Errorf("build select job: %w", err)
	}
	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("%s: %w", label, ports.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("select job: %w", err)
	}
	return row.toDomain()
}

// ListJobs returns every job ordered by name.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, nil)
}

// ActiveJobs returns jobs eligible for scheduling.
func (s *SQLiteStore) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, sq.Eq{"active": 1})
}

func (s *SQLiteStore) listJobs(ctx context.Context, where sq.Sqlizer) ([]domain.Job, error) {
	b := s.sb.Select(jobColumns...).From("jobs").OrderBy("name")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs: %w", err)
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateJobLastRun records run bookkeeping.
func (s *SQLiteStore) UpdateJobLastRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	query, args, err := s.sb.Update("jobs").
		Set("last_run", formatTime(lastRun)).
		Set("next_run", formatTime(nextRun)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last run: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return expectAffected(res, "job", id)
}

func expectAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ports.ErrNotFound)
	}
	return nil
}
