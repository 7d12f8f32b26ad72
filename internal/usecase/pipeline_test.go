package usecase

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/actions"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/infrastructure/parser"
	"PageHarvester/internal/infrastructure/screen"
	"PageHarvester/internal/infrastructure/storage"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/retry"
)

type stillScreen struct {
	mu       sync.Mutex
	focus    int
	clicks   int
	focusErr error
}

func (s *stillScreen) CaptureFullScreen(context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 100, 40)), nil
}

func (s *stillScreen) CaptureRegion(ctx context.Context, r domain.Rect) (image.Image, error) {
	img, _ := s.CaptureFullScreen(ctx)
	c, _ := screen.Crop(img, r)
	return c, nil
}

func (s *stillScreen) ClickAt(context.Context, int, int) error {
	s.mu.Lock()
	s.clicks++
	s.mu.Unlock()
	return nil
}

func (s *stillScreen) Scroll(context.Context, ports.ScrollDirection, int) error { return nil }
func (s *stillScreen) ScrollToTop(context.Context) error                        { return nil }
func (s *stillScreen) TypeText(context.Context, string) error                   { return nil }
func (s *stillScreen) PressKey(context.Context, string) error                   { return nil }

func (s *stillScreen) Focus(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus++
	return s.focusErr
}

// quoteOCR reads the symbol region at y=0 and the price region at y=20.
type quoteOCR struct{}

func (quoteOCR) ReadText(_ context.Context, img image.Image) ([]ports.Detection, error) {
	switch img.Bounds().Min.Y {
	case 0:
		return []ports.Detection{{Text: "AAPL", Confidence: 0.97}}, nil
	case 20:
		return []ports.Detection{{Text: "175", Confidence: 0.93}}, nil
	}
	return nil, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (n *recordingNotifier) Send(_ context.Context, _ domain.TelegramTarget, message string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return "", domain.NewError(domain.KindDelivery, "telegram down", nil)
	}
	n.messages = append(n.messages, message)
	return "m-1", nil
}

func (n *recordingNotifier) TestConnection(context.Context, string) (string, error) {
	return "@bot", nil
}

type htmlBrowser struct{ html string }

func (b htmlBrowser) Navigate(context.Context, string) error                       { return nil }
func (b htmlBrowser) CurrentURL(context.Context) (string, error)                   { return "", nil }
func (b htmlBrowser) WaitForSelector(context.Context, string, time.Duration) error { return nil }
func (b htmlBrowser) Evaluate(context.Context, string) (any, error)                { return nil, nil }
func (b htmlBrowser) HTML(context.Context) (string, error)                         { return b.html, nil }

type countingMetrics struct {
	mu   sync.Mutex
	runs []domain.RunStatus
}

func (m *countingMetrics) ObserveRun(_ domain.Job, entry domain.ExecutionLog) {
	m.mu.Lock()
	m.runs = append(m.runs, entry.Status)
	m.mu.Unlock()
}

type harness struct {
	store    *storage.SQLiteStore
	screen   *stillScreen
	notifier *recordingNotifier
	metrics  *countingMetrics
	pipeline *Pipeline
}

func newHarness(t *testing.T, html string, extra ...extractor.Strategy) *harness {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		screen:   &stillScreen{},
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
	}
	registry := extractor.NewRegistry()
	registry.Register(screen.NewSingleStrategy(h.screen, quoteOCR{}, screen.DefaultOptions(), nil))
	registry.Register(parser.NewDOMStrategy(htmlBrowser{html: html}, nil))
	for _, s := range extra {
		registry.Register(s)
	}

	h.pipeline = NewPipeline(PipelineDeps{
		Store:      store,
		Registry:   registry,
		Actions:    actions.NewExecutor(h.screen, quoteOCR{}, nil),
		Screen:     h.screen,
		Notifier:   h.notifier,
		Metrics:    h.metrics,
		FocusRetry: retry.Config{MaxAttempts: 1},
	})
	return h
}

func quoteJob() domain.Job {
	return domain.Job{
		Name:     "quotes",
		Type:     domain.JobTypeOCR,
		PageMode: domain.PageModeSingle,
		Regions: []domain.Region{
			{Name: "sym", Rect: domain.Rect{X: 0, Y: 0, Width: 100, Height: 20}},
			{Name: "price", Rect: domain.Rect{X: 0, Y: 20, Width: 100, Height: 20}},
		},
		Template:      "Stock: {sym} @ {price}",
		Telegram:      domain.TelegramTarget{ChatID: "1"},
		Deduplicate:   true,
		RetentionDays: 30,
		IntervalHours: 1,
		Active:        true,
	}
}

func TestRunJobOCRIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	jobID, err := h.store.CreateJob(ctx, quoteJob())
	require.NoError(t, err)

	first, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, first.Status)
	assert.Equal(t, domain.RunCounts{PagesProcessed: 1, ItemsExtracted: 1, ItemsNew: 1, ItemsDuplicate: 0, ItemsSent: 1}, first.RunCounts)
	assert.Equal(t, []string{"Stock: AAPL @ 175"}, h.notifier.messages)

	second, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, second.Status)
	assert.Equal(t, 0, second.ItemsNew)
	assert.Equal(t, 1, second.ItemsDuplicate)
	assert.Equal(t, 0, second.ItemsSent)
	assert.Len(t, h.notifier.messages, 1)

	logs, err := h.store.ListExecutionLogs(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, domain.RunSuccess, l.Status)
		assert.NotNil(t, l.CompletedAt)
	}

	records, err := h.store.ListRecords(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)
	assert.Equal(t, "m-1", records[0].MessageID)

	job, err := h.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.LastRun)
	require.NotNil(t, job.NextRun)
	assert.Equal(t, time.Hour, job.NextRun.Sub(*job.LastRun))
	assert.Equal(t, 2, h.screen.focus)
	assert.Equal(t, []domain.RunStatus{domain.RunSuccess, domain.RunSuccess}, h.metrics.runs)
}

func TestRunJobDOMZeroContainersFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, `<html><body><p>nothing here</p></body></html>`)
	jobID, err := h.store.CreateJob(ctx, domain.Job{
		Name: "listing",
		Type: domain.JobTypeDOM,
		DOM: domain.DOMConfig{
			ContainerSelector: ".item",
			FieldSelectors:    map[string]string{"title": ".title"},
		},
		Deduplicate: true,
		Active:      true,
	})
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, extractor.ErrNoItems)
	assert.True(t, domain.IsKind(err, domain.KindExtractionEmpty))
	assert.Equal(t, domain.RunFailed, entry.Status)

	logs, err := h.store.ListExecutionLogs(ctx, jobID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunFailed, logs[0].Status)
	assert.Equal(t, 0, logs[0].ItemsExtracted)
	assert.NotEmpty(t, logs[0].ErrorMessage)

	job, err := h.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, job.LastRun)
}

func TestRunJobFocusFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.screen.focusErr = errors.New("window not found")
	jobID, err := h.store.CreateJob(ctx, quoteJob())
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, entry.Status)
	assert.Equal(t, 1, entry.ItemsNew)
	assert.Equal(t, 1, entry.ItemsSent)
	assert.Empty(t, entry.ErrorMessage)
	assert.Equal(t, 1, h.screen.focus)
}

// failingRecordStore fails StoreRecord once failAt records were stored.
type failingRecordStore struct {
	ports.Store
	mu     sync.Mutex
	stored int
	failAt int
}

func (s *failingRecordStore) StoreRecord(ctx context.Context, jobID int64, hash domain.ContentHash, record domain.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored >= s.failAt {
		return 0, errors.New("disk full")
	}
	s.stored++
	return s.Store.StoreRecord(ctx, jobID, hash, record)
}

func TestRunJobFailureKeepsPartialCounts(t *testing.T) {
	ctx := context.Background()
	const rows = `<div class="row"><b>one</b></div><div class="row"><b>two</b></div>`
	h := newHarness(t, rows)
	registry := extractor.NewRegistry()
	registry.Register(parser.NewDOMStrategy(htmlBrowser{html: rows}, nil))
	pipeline := NewPipeline(PipelineDeps{
		Store:    &failingRecordStore{Store: h.store, failAt: 1},
		Registry: registry,
		Notifier: h.notifier,
	})

	jobID, err := h.store.CreateJob(ctx, domain.Job{
		Name: "rows",
		Type: domain.JobTypeDOM,
		DOM: domain.DOMConfig{
			ContainerSelector: ".row",
			FieldSelectors:    map[string]string{"v": "b"},
		},
		Template:    "{v}",
		Telegram:    domain.TelegramTarget{ChatID: "1"},
		Deduplicate: true,
		Active:      true,
	})
	require.NoError(t, err)

	entry, err := pipeline.RunJob(ctx, jobID, nil)
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, entry.Status)

	logs, err := h.store.ListExecutionLogs(ctx, jobID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunFailed, logs[0].Status)
	assert.Equal(t, 2, logs[0].ItemsExtracted)
	assert.Equal(t, 1, logs[0].ItemsNew)
	assert.Equal(t, 1, logs[0].ItemsSent)
	assert.NotEmpty(t, logs[0].ErrorMessage)
	assert.Equal(t, []string{"one"}, h.notifier.messages)
}

func TestRunJobDeliveryFailureIsPartial(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.notifier.fail = true
	jobID, err := h.store.CreateJob(ctx, quoteJob())
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, entry.Status)
	assert.Equal(t, 1, entry.ItemsNew)
	assert.Equal(t, 0, entry.ItemsSent)

	records, err := h.store.ListRecords(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Delivered)
}

func TestRunJobWithoutDedupCountsRepeatsAsDuplicates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, `<div class="row"><b>x</b></div><div class="row"><b>x</b></div>`)
	jobID, err := h.store.CreateJob(ctx, domain.Job{
		Name: "rows",
		Type: domain.JobTypeDOM,
		DOM: domain.DOMConfig{
			ContainerSelector: ".row",
			FieldSelectors:    map[string]string{"v": "b"},
		},
		Active: true,
	})
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.ItemsExtracted)
	assert.Equal(t, 1, entry.ItemsNew)
	assert.Equal(t, 1, entry.ItemsDuplicate)
}

type blockingStrategy struct {
	started chan struct{}
}

func (b blockingStrategy) Name() string { return extractor.NameCSV }

func (b blockingStrategy) Extract(ctx context.Context, _ extractor.Request) (extractor.Result, error) {
	close(b.started)
	<-ctx.Done()
	return extractor.Result{PagesProcessed: 1}, ctx.Err()
}

func TestRunJobCancelledIsFinalizedAsFailed(t *testing.T) {
	bs := blockingStrategy{started: make(chan struct{})}
	h := newHarness(t, "", bs)
	jobID, err := h.store.CreateJob(context.Background(), domain.Job{
		Name:   "report",
		Type:   domain.JobTypeCSV,
		CSV:    domain.CSVConfig{FilePattern: "*.csv"},
		Active: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	progress := h.pipeline.StartJob(ctx, jobID)
	<-bs.started
	cancel()

	select {
	case <-progress.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}
	snap, ok := h.pipeline.Progress(progress.RunID())
	require.True(t, ok)
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Equal(t, domain.RunFailed, snap.Status)
	assert.Equal(t, 1, snap.Counts.PagesProcessed)

	logs, err := h.store.ListExecutionLogs(context.Background(), jobID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunFailed, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, context.Canceled.Error())
}

type skippingStrategy struct{}

func (skippingStrategy) Name() string { return extractor.NameCSV }

func (skippingStrategy) Extract(context.Context, extractor.Request) (extractor.Result, error) {
	return extractor.Result{}, errors.Join(extractor.ErrSkipped, errors.New("outside active hours"))
}

func TestRunJobSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "", skippingStrategy{})
	jobID, err := h.store.CreateJob(ctx, domain.Job{
		Name:   "report",
		Type:   domain.JobTypeCSV,
		CSV:    domain.CSVConfig{FilePattern: "*.csv"},
		Active: true,
	})
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSkipped, entry.Status)
}

func TestRunJobStopsOnFailFastAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	job := quoteJob()
	job.PreActions = []domain.Action{
		{Type: domain.ActionClickOCR, SearchText: "missing", StopOnFailure: true, WaitAfter: new(float64)},
		{Type: domain.ActionClickCoordinates, X: 1, Y: 1, WaitAfter: new(float64)},
	}
	jobID, err := h.store.CreateJob(ctx, job)
	require.NoError(t, err)

	entry, err := h.pipeline.RunJob(ctx, jobID, nil)
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "pre-extraction action 0")
	assert.Equal(t, 0, h.screen.clicks)
	assert.Empty(t, h.notifier.messages)
}

func TestRunJobMissingJob(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.pipeline.RunJob(context.Background(), 404, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func TestDryRunDoesNotStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	job := quoteJob()
	jobID, err := h.store.CreateJob(ctx, job)
	require.NoError(t, err)
	job.ID = jobID

	preview, err := h.pipeline.DryRun(ctx, job)
	require.NoError(t, err)
	require.Len(t, preview.Items, 1)
	assert.True(t, preview.Items[0].IsNew)
	assert.Equal(t, "Stock: AAPL @ 175", preview.Items[0].Message)

	records, err := h.store.ListRecords(ctx, jobID, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, h.notifier.messages)
}
