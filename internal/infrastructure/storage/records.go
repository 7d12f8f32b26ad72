package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

type recordRow struct {
	ID             int64   `db:"id"`
	JobID          int64   `db:"job_id"`
	Hash           string  `db:"hash"`
	Data           string  `db:"data"`
	PageNumber     int     `db:"page_number"`
	ScrollPosition int     `db:"scroll_position"`
	ExtractedAt    string  `db:"extracted_at"`
	Delivered      bool    `db:"sent_to_telegram"`
	MessageID      string  `db:"telegram_message_id"`
	DeliveredAt    *string `db:"telegram_sent_at"`
}

// StoreRecord inserts a record. A (job, hash) collision returns
// ports.ErrConflict.
func (s *SQLiteStore) StoreRecord(ctx context.Context, jobID int64, hash domain.ContentHash, record domain.Record) (int64, error) {
	fields := record.Fields
	if fields == nil {
		fields = []domain.Field{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	lowConf, err := json.Marshal(nonNilStrings(record.Meta.LowConfidence))
	if err != nil {
		return 0, fmt.Errorf("encode low confidence: %w", err)
	}
	extractedAt := record.Meta.CapturedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now()
	}

	query, args, err := s.sb.Insert("extracted_data").
		Columns("job_id", "hash", "data", "low_confidence", "page_number", "scroll_position", "extracted_at").
		Values(jobID, string(hash), string(data), string(lowConf), record.Meta.PageNumber, record.Meta.ScrollPosition, formatTime(extractedAt)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert record: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("record %s for job %d: %w", hash, jobID, ports.ErrConflict)
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// IsDuplicate reports whether the job already stored this hash.
func (s *SQLiteStore) IsDuplicate(ctx context.Context, jobID int64, hash domain.ContentHash) (bool, error) {
	query, args, err := s.sb.Select("COUNT(1)").From("extracted_data").
		Where(sq.Eq{"job_id": jobID, "hash": string(hash)}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build duplicate check: %w", err)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return n > 0, nil
}

// MarkDelivered stores the external message id of a delivered record.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, recordID int64, messageID string) error {
	query, args, err := s.sb.Update("extracted_data").
		Set("sent_to_telegram", 1).
		Set("telegram_message_id", messageID).
		Set("telegram_sent_at", formatTime(time.Now())).
		Where(sq.Eq{"id": recordID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark delivered: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return expectAffected(res, "record", recordID)
}

// ListRecords returns the newest records of a job.
func (s *SQLiteStore) ListRecords(ctx context.Context, jobID int64, limit int) ([]domain.StoredRecord, error) {
	b := s.sb.Select("id", "job_id", "hash", "data", "page_number", "scroll_position",
		"extracted_at", "sent_to_telegram", "telegram_message_id", "telegram_sent_at").
		From("extracted_data").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("extracted_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records: %w", err)
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	out := make([]domain.StoredRecord, 0, len(rows))
	for _, r := range rows {
		var fields []domain.Field
		if err := json.Unmarshal([]byte(r.Data), &fields); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", r.ID, err)
		}
		out = append(out, domain.StoredRecord{
			ID:             r.ID,
			JobID:          r.JobID,
			Hash:           domain.ContentHash(r.Hash),
			Fields:         fields,
			PageNumber:     r.PageNumber,
			ScrollPosition: r.ScrollPosition,
			ExtractedAt:    parseTime(r.ExtractedAt),
			Delivered:      r.Delivered,
			MessageID:      r.MessageID,
			DeliveredAt:    parseTimePtr(r.DeliveredAt),
		})
	}
	return out, nil
}

// CleanupOlderThan deletes a job's records extracted before cutoff.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, jobID int64, cutoff time.Time) (int64, error) {
	query, args, err := s.sb.Delete("extracted_data").
		Where(sq.Eq{"job_id": jobID}).
		Where(sq.Lt{"extracted_at": formatTime(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup records: %w", err)
	}
	return res.RowsAffected()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
