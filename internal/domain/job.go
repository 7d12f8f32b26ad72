package domain

import (
	"sort"
	"time"
)

// JobType selects the extraction family a job runs.
type JobType string

const (
	JobTypeOCR JobType = "ocr_extraction"
	JobTypeCSV JobType = "csv_analysis"
	JobTypeDOM JobType = "dom_extraction"
)

// Valid reports whether the job type is one of the known values.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeOCR, JobTypeCSV, JobTypeDOM:
		return true
	}
	return false
}

// PageMode controls how OCR jobs walk a page.
type PageMode string

const (
	PageModeSingle     PageMode = "single"
	PageModeScroll     PageMode = "scroll"
	PageModePagination PageMode = "pagination"
)

// Job is a named automation task. The pipeline only ever touches LastRun/NextRun.
type Job struct {
	ID            int64            `json:"id" yaml:"-"`
	Name          string           `json:"name" yaml:"name"`
	URL           string           `json:"url" yaml:"url"`
	Type          JobType          `json:"job_type" yaml:"job_type"`
	PageMode      PageMode         `json:"page_mode" yaml:"page_mode"`
	Regions       []Region         `json:"ocr_regions" yaml:"ocr_regions"`
	Scroll        ScrollConfig     `json:"scroll_config" yaml:"scroll_config"`
	Pagination    PaginationConfig `json:"pagination_config" yaml:"pagination_config"`
	DOM           DOMConfig        `json:"dom_config" yaml:"dom_config"`
	CSV           CSVConfig        `json:"csv_config" yaml:"csv_config"`
	PreActions    []Action         `json:"pre_extraction_actions" yaml:"pre_extraction_actions"`
	Template      string           `json:"format_template" yaml:"format_template"`
	Telegram      TelegramTarget   `json:"telegram" yaml:"telegram"`
	Deduplicate   bool             `json:"enable_deduplication" yaml:"enable_deduplication"`
	RetentionDays int              `json:"data_retention_days" yaml:"data_retention_days"`
	IntervalHours int              `json:"schedule_interval_hours" yaml:"schedule_interval_hours"`
	Active        bool             `json:"active" yaml:"active"`
	LastRun       *time.Time       `json:"last_run,omitempty" yaml:"-"`
	NextRun       *time.Time       `json:"next_run,omitempty" yaml:"-"`
	CreatedAt     time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time        `json:"updated_at" yaml:"-"`
}

// TelegramTarget holds delivery credentials. An empty BotToken means the
// process-wide bot configured at startup is used.
type TelegramTarget struct {
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

// Rect is a screen rectangle in pixels.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Region is a named rectangle read by OCR.
type Region struct {
	Name string `json:"name" yaml:"name"`
	Rect `yaml:",inline"`
}

// ScrollConfig drives scroll-mode OCR.
type ScrollConfig struct {
	ScrollPixels int     `json:"scroll_pixels" yaml:"scroll_pixels"`
	WaitSeconds  float64 `json:"wait_time" yaml:"wait_time"`
	MaxScrolls   int     `json:"max_scrolls" yaml:"max_scrolls"`
}

// NextButtonMode tells pagination how to find the "next" control.
type NextButtonMode string

const (
	NextByCoordinates NextButtonMode = "coordinates"
	NextByText        NextButtonMode = "ocr_text"
)

// PaginationConfig drives pagination-mode OCR.
type PaginationConfig struct {
	Mode         NextButtonMode `json:"next_button_mode" yaml:"next_button_mode"`
	X            int            `json:"next_button_x" yaml:"next_button_x"`
	Y            int            `json:"next_button_y" yaml:"next_button_y"`
	Text         string         `json:"next_button_text" yaml:"next_button_text"`
	SearchRegion *Rect          `json:"search_region,omitempty" yaml:"search_region"`
	MaxPages     int            `json:"max_pages" yaml:"max_pages"`
	WaitSeconds  float64        `json:"page_wait_time" yaml:"page_wait_time"`
}

// DOMConfig is the selector map for DOM extraction.
type DOMConfig struct {
	ContainerSelector string            `json:"container_selector" yaml:"container_selector"`
	FieldSelectors    map[string]string `json:"field_selectors" yaml:"field_selectors"`
	FieldOrder        []string          `json:"field_order,omitempty" yaml:"field_order"`
	WaitForSelector   string            `json:"wait_for_selector,omitempty" yaml:"wait_for_selector"`
	WaitSeconds       float64           `json:"wait_time" yaml:"wait_time"`
}

// OrderedFields returns field names in display order: FieldOrder first,
// then any remaining selectors sorted by name.
func (d DOMConfig) OrderedFields() []string {
	seen := make(map[string]bool, len(d.FieldSelectors))
	out := make([]string, 0, len(d.FieldSelectors))
	for _, name := range d.FieldOrder {
		if _, ok := d.FieldSelectors[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	rest := make([]string, 0, len(d.FieldSelectors))
	for name := range d.FieldSelectors {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// CSVConfig configures the spreadsheet prep-time analysis.
type CSVConfig struct {
	FilePattern      string   `json:"file_pattern" yaml:"file_pattern"`
	DatetimeColumn   string   `json:"datetime_column" yaml:"datetime_column"`
	PrepTimeColumn   string   `json:"prep_time_column" yaml:"prep_time_column"`
	ItemsColumn      string   `json:"items_column" yaml:"items_column"`
	DatetimeFormats  []string `json:"datetime_formats,omitempty" yaml:"datetime_formats"`
	ThresholdMinutes float64  `json:"threshold_minutes" yaml:"threshold_minutes"`
	ActiveHoursStart int      `json:"active_hours_start" yaml:"active_hours_start"`
	ActiveHoursEnd   int      `json:"active_hours_end" yaml:"active_hours_end"`
	Archive          bool     `json:"archive" yaml:"archive"`
}

const (
	DefaultScrollPixels     = 500
	DefaultScrollWait       = 2.0
	DefaultMaxScrolls       = 50
	DefaultMaxPages         = 100
	DefaultPageWait         = 3.0
	DefaultRetentionDays    = 30
	DefaultIntervalHours    = 24
	DefaultDOMWait          = 2.0
	DefaultThresholdMinutes = 10.0
)

// ApplyDefaults fills zero-valued tunables.
func (j *Job) ApplyDefaults() {
	if j.PageMode == "" {
		j.PageMode = PageModeSingle
	}
	if j.Scroll.ScrollPixels == 0 {
		j.Scroll.ScrollPixels = DefaultScrollPixels
	}
	if j.Scroll.WaitSeconds == 0 {
		j.Scroll.WaitSeconds = DefaultScrollWait
	}
	if j.Scroll.MaxScrolls == 0 {
		j.Scroll.MaxScrolls = DefaultMaxScrolls
	}
	if j.Pagination.Mode == "" {
		j.Pagination.Mode = NextByCoordinates
	}
	if j.Pagination.MaxPages == 0 {
		j.Pagination.MaxPages = DefaultMaxPages
	}
	if j.Pagination.WaitSeconds == 0 {
		j.Pagination.WaitSeconds = DefaultPageWait
	}
	if j.DOM.WaitSeconds == 0 {
		j.DOM.WaitSeconds = DefaultDOMWait
	}
	if j.CSV.ThresholdMinutes == 0 {
		j.CSV.ThresholdMinutes = DefaultThresholdMinutes
	}
	if j.RetentionDays == 0 {
		j.RetentionDays = DefaultRetentionDays
	}
	if j.IntervalHours == 0 {
		j.IntervalHours = DefaultIntervalHours
	}
}

// Validate checks the fields a run cannot proceed without.
func (j Job) Validate() error {
	if j.Name == "" {
		return NewError(KindConfig, "job name is required", nil)
	}
	if !j.Type.Valid() {
		return NewError(KindConfig, "unknown job type "+string(j.Type), nil)
	}
	switch j.Type {
	case JobTypeOCR:
		if len(j.Regions) == 0 {
			return NewError(KindConfig, "ocr job needs at least one region", nil)
		}
		switch j.PageMode {
		case PageModeSingle, PageModeScroll, PageModePagination, "":
		default:
			return NewError(KindConfig, "unknown page mode "+string(j.PageMode), nil)
		}
	case JobTypeDOM:
		if j.DOM.ContainerSelector == "" {
			return NewError(KindConfig, "dom job needs a container selector", nil)
		}
		if len(j.DOM.FieldSelectors) == 0 {
			return NewError(KindConfig, "dom job needs field selectors", nil)
		}
	case JobTypeCSV:
		if j.CSV.FilePattern == "" {
			return NewError(KindConfig, "csv job needs a file pattern", nil)
		}
	}
	return nil
}
