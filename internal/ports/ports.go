package ports

import (
	"context"
	"errors"
	"image"
	"time"

	"PageHarvester/internal/domain"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a (job, hash) pair is already stored.
	ErrConflict = errors.New("conflict")
)

// JobRepository stores job definitions.
type JobRepository interface {
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
	UpdateJob(ctx context.Context, job domain.Job) error
	DeleteJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	GetJobByName(ctx context.Context, name string) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ActiveJobs(ctx context.Context) ([]domain.Job, error)
	UpdateJobLastRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error
}

// RecordRepository persists extracted records keyed by (job, hash).
type RecordRepository interface {
	StoreRecord(ctx context.Context, jobID int64, hash domain.ContentHash, record domain.Record) (int64, error)
	IsDuplicate(ctx context.Context, jobID int64, hash domain.ContentHash) (bool, error)
	MarkDelivered(ctx context.Context, recordID int64, messageID string) error
	ListRecords(ctx context.Context, jobID int64, limit int) ([]domain.StoredRecord, error)
	CleanupOlderThan(ctx context.Context, jobID int64, cutoff time.Time) (int64, error)
}

// ExecutionLogRepository stores run outcomes.
type ExecutionLogRepository interface {
	StartExecutionLog(ctx context.Context, jobID int64, startedAt time.Time) (int64, error)
	CompleteExecutionLog(ctx context.Context, entry domain.ExecutionLog) error
	ListExecutionLogs(ctx context.Context, jobID int64, limit int) ([]domain.ExecutionLog, error)
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}

// Store bundles every repository.
type Store interface {
	JobRepository
	RecordRepository
	ExecutionLogRepository
}

// ScrollDirection is the wheel direction for Screen.Scroll.
type ScrollDirection string

const (
	ScrollDown ScrollDirection = "down"
	ScrollUp   ScrollDirection = "up"
)

// Screen captures pixels and drives input on the shared display.
type Screen interface {
	CaptureFullScreen(ctx context.Context) (image.Image, error)
	CaptureRegion(ctx context.Context, rect domain.Rect) (image.Image, error)
	ClickAt(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, dir ScrollDirection, pixels int) error
	ScrollToTop(ctx context.Context) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Focus(ctx context.Context) error
}

// Detection is one OCR text fragment.
type Detection struct {
	Box        domain.Rect
	Text       string
	Confidence float64
}

// OCR turns an image into text fragments in detection order.
type OCR interface {
	ReadText(ctx context.Context, img image.Image) ([]Detection, error)
}

// Browser is the DOM side of the shared browser.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
	HTML(ctx context.Context) (string, error)
}

// Notifier delivers rendered messages.
type Notifier interface {
	Send(ctx context.Context, target domain.TelegramTarget, message string) (string, error)
	TestConnection(ctx context.Context, botToken string) (string, error)
}

// SelectorSuggestion is a proposed DOM configuration.
type SelectorSuggestion struct {
	ContainerSelector string            `json:"container_selector"`
	FieldSelectors    map[string]string `json:"field_selectors"`
	Explanation       string            `json:"explanation,omitempty"`
}

// SelectorSuggester proposes DOM selectors for one item of HTML given the
// values the user expects to extract from it.
type SelectorSuggester interface {
	SuggestSelectors(ctx context.Context, htmlBlock string, example map[string]string) (SelectorSuggestion, error)
}

// Scheduler fires job runs on their intervals.
type Scheduler interface {
	Schedule(job domain.Job, run func(jobID int64)) error
	Unschedule(jobID int64)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
