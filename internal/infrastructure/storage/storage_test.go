package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "harvester.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleJob(name string) domain.Job {
	return domain.Job{
		Name:     name,
		URL:      "https://example.com/orders",
		Type:     domain.JobTypeDOM,
		PageMode: domain.PageModeSingle,
		DOM: domain.DOMConfig{
			ContainerSelector: ".order",
			FieldSelectors:    map[string]string{"id": ".id", "total": ".total"},
			FieldOrder:        []string{"id", "total"},
		},
		PreActions:    []domain.Action{{Type: domain.ActionWait, Duration: 1.5}},
		Template:      "Order {id}: {total}",
		Telegram:      domain.TelegramTarget{ChatID: "42"},
		Deduplicate:   true,
		RetentionDays: 7,
		IntervalHours: 2,
		Active:        true,
	}
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	id, err := store.CreateJob(ctx, sampleJob("orders"))
	require.NoError(t, err)

	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, domain.JobTypeDOM, got.Type)
	assert.Equal(t, ".order", got.DOM.ContainerSelector)
	assert.Equal(t, []string{"id", "total"}, got.DOM.FieldOrder)
	require.Len(t, got.PreActions, 1)
	assert.Equal(t, domain.ActionWait, got.PreActions[0].Type)
	assert.Equal(t, "42", got.Telegram.ChatID)
	assert.True(t, got.Deduplicate)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRun)

	got.Template = "changed"
	got.Active = false
	require.NoError(t, store.UpdateJob(ctx, got))

	byName, err := store.GetJobByName(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "changed", byName.Template)

	active, err := store.ActiveJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateJobLastRun(ctx, id, last, last.Add(2*time.Hour)))
	got, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(last))
	assert.True(t, got.NextRun.Equal(last.Add(2*time.Hour)))
}

func TestJobErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateJob(ctx, sampleJob("dup"))
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, sampleJob("dup"))
	assert.ErrorIs(t, err, ports.ErrConflict)

	_, err = store.GetJob(ctx, 999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, store.DeleteJob(ctx, 999), ports.ErrNotFound)
}

func TestRecordsConflictAndDelivery(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	jobID, err := store.CreateJob(ctx, sampleJob("records"))
	require.NoError(t, err)

	rec := domain.NewRecord("id", "A-1", "total", "10.00")
	rec.Meta.PageNumber = 2
	rec.FlagLowConfidence("total")

	recID, err := store.StoreRecord(ctx, jobID, "hash-1", rec)
	require.NoError(t, err)

	_, err = store.StoreRecord(ctx, jobID, "hash-1", rec)
	assert.ErrorIs(t, err, ports.ErrConflict)

	dup, err := store.IsDuplicate(ctx, jobID, "hash-1")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = store.IsDuplicate(ctx, jobID, "hash-2")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, store.MarkDelivered(ctx, recID, "777"))

	records, err := store.ListRecords(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Fields, records[0].Fields)
	assert.Equal(t, 2, records[0].PageNumber)
	assert.True(t, records[0].Delivered)
	assert.Equal(t, "777", records[0].MessageID)
	assert.NotNil(t, records[0].DeliveredAt)

	stats, err := store.Stats(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 0, stats.UndeliveredRecs)
}

func TestCleanupAndCascade(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	jobID, err := store.CreateJob(ctx, sampleJob("cleanup"))
	require.NoError(t, err)

	old := domain.NewRecord("id", "old")
	old.Meta.CapturedAt = time.Now().Add(-40 * 24 * time.Hour)
	fresh := domain.NewRecord("id", "fresh")
	fresh.Meta.CapturedAt = time.Now()

	_, err = store.StoreRecord(ctx, jobID, "old", old)
	require.NoError(t, err)
	_, err = store.StoreRecord(ctx, jobID, "fresh", fresh)
	require.NoError(t, err)

	removed, err := store.CleanupOlderThan(ctx, jobID, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.StartExecutionLog(ctx, jobID, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.DeleteJob(ctx, jobID))
	records, err := store.ListRecords(ctx, jobID, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	logs, err := store.ListExecutionLogs(ctx, jobID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestExecutionLogFinalizedOnce(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	jobID, err := store.CreateJob(ctx, sampleJob("logs"))
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute)
	logID, err := store.StartExecutionLog(ctx, jobID, started)
	require.NoError(t, err)

	completed := time.Now()
	entry := domain.ExecutionLog{
		ID:          logID,
		JobID:       jobID,
		CompletedAt: &completed,
		Duration:    60,
		Status:      domain.RunSuccess,
		RunCounts:   domain.RunCounts{PagesProcessed: 1, ItemsExtracted: 3, ItemsNew: 2, ItemsDuplicate: 1, ItemsSent: 2},
	}
	require.NoError(t, store.CompleteExecutionLog(ctx, entry))

	entry.Status = domain.RunFailed
	assert.ErrorIs(t, store.CompleteExecutionLog(ctx, entry), ports.ErrNotFound)

	logs, err := store.ListExecutionLogs(ctx, jobID, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].ItemsNew)
	assert.NotNil(t, logs[0].CompletedAt)

	stats, err := store.Stats(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SuccessRuns24h)
	assert.Equal(t, 0, stats.FailedRuns24h)
}
