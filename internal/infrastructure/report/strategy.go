package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
)

// Config locates downloaded reports.
type Config struct {
	DownloadsDir string `yaml:"dir"`
	ArchiveDir   string `yaml:"archiveDir"`
}

// CSVStrategy turns the newest matching report into one record per hour
// whose average prep time is over the job threshold.
type CSVStrategy struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ extractor.Strategy = (*CSVStrategy)(nil)

// NewCSVStrategy builds the strategy. An empty downloads dir means ~/Downloads.
func NewCSVStrategy(cfg Config, logger *slog.Logger) *CSVStrategy {
	if cfg.DownloadsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DownloadsDir = filepath.Join(home, "Downloads")
		}
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.DownloadsDir, "archive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVStrategy{cfg: cfg, logger: logger, now: time.Now}
}

// Name identifies the strategy inside the registry.
func (s *CSVStrategy) Name() string { return extractor.NameCSV }

// Extract analyses the latest report. Outside the job's active hours it
// returns extractor.ErrSkipped without touching any file.
func (s *CSVStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	var result extractor.Result
	cfg := req.Job.CSV

	hour := s.now().Hour()
	if !withinActiveHours(hour, cfg.ActiveHoursStart, cfg.ActiveHoursEnd) {
		return result, fmt.Errorf("outside active hours %d:00-%d:00: %w",
			cfg.ActiveHoursStart, cfg.ActiveHoursEnd, extractor.ErrSkipped)
	}

	path, err := LatestFile(s.cfg.DownloadsDir, cfg.FilePattern)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	s.logger.Info("analysing report", "file", filepath.Base(path))

	table, err := ReadTable(path)
	if err != nil {
		return result, domain.NewError(domain.KindFatal, "read report "+filepath.Base(path), err)
	}
	analysis, err := Analyze(table, cfg)
	if err != nil {
		return result, err
	}
	result.PagesProcessed = 1
	req.ReportPage(1)
	if analysis.ValidRows == 0 {
		result.Warnf("report %s has no rows with a time and prep value", filepath.Base(path))
	}

	threshold := cfg.ThresholdMinutes
	if threshold <= 0 {
		threshold = domain.DefaultThresholdMinutes
	}
	captured := s.now().UTC()
	for _, h := range analysis.Over(threshold) {
		rec := domain.NewRecord(
			"date", analysis.Date,
			"hour", h.Label(),
			"avg_prep_minutes", strconv.FormatFloat(h.AvgPrep, 'f', 1, 64),
			"threshold_minutes", strconv.FormatFloat(threshold, 'f', -1, 64),
			"orders", strconv.Itoa(h.Orders),
			"items", strconv.Itoa(h.Items),
		)
		rec.Meta.CapturedAt = captured
		rec.Meta.PageNumber = 1
		result.Records = append(result.Records, rec)
	}
	s.logger.Info("report analysed", "valid_rows", analysis.ValidRows,
		"hours", len(analysis.Hours), "alerts", len(result.Records))

	if cfg.Archive {
		archived, err := s.archive(path)
		if err != nil {
			result.Warnf("archive %s: %v", filepath.Base(path), err)
		} else {
			s.logger.Info("report archived", "path", archived)
		}
	}
	return result, nil
}

// LatestFile returns the most recently modified file in dir matching pattern.
func LatestFile(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = "*.csv"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", domain.NewError(domain.KindConfig, "bad file pattern "+pattern, err)
	}
	var (
		latest string
		newest time.Time
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if latest == "" || info.ModTime().After(newest) {
			latest, newest = m, info.ModTime()
		}
	}
	if latest == "" {
		return "", domain.NewError(domain.KindExtractionEmpty,
			fmt.Sprintf("no report matching %s in %s", pattern, dir), extractor.ErrNoItems)
	}
	return latest, nil
}

func (s *CSVStrategy) archive(path string) (string, error) {
	if err := os.MkdirAll(s.cfg.ArchiveDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + "_" + s.now().Format("20060102_150405") + ext
	dst := filepath.Join(s.cfg.ArchiveDir, name)
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// withinActiveHours treats 0-0 as the whole day.
func withinActiveHours(hour, start, end int) bool {
	if start == 0 && end == 0 {
		return true
	}
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
