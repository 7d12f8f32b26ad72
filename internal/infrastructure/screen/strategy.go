// Package screen implements the OCR extraction strategies that read named
// regions from captures of the shared display.
package screen

import (
	"context"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/ports"
)

// Options tunes capture comparison and OCR thresholds.
type Options struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	SameCount           int     `yaml:"sameCount"`
	MinConfidence       float64 `yaml:"minConfidence"`
	NextButtonConf      float64 `yaml:"nextButtonConfidence"`
	SearchHeight        int     `yaml:"searchHeight"`
	// ScreenshotDir, when set, receives a PNG of every capture.
	ScreenshotDir string `yaml:"screenshotDir"`
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.98,
		SameCount:           3,
		MinConfidence:       0.85,
		NextButtonConf:      0.6,
		SearchHeight:        200,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = def.SimilarityThreshold
	}
	if o.SameCount <= 0 {
		o.SameCount = def.SameCount
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = def.MinConfidence
	}
	if o.NextButtonConf <= 0 {
		o.NextButtonConf = def.NextButtonConf
	}
	if o.SearchHeight <= 0 {
		o.SearchHeight = def.SearchHeight
	}
	return o
}

type base struct {
	screen ports.Screen
	reader RegionReader
	ocr    ports.OCR
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func newBase(screen ports.Screen, ocr ports.OCR, opts Options, logger *slog.Logger) base {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		screen: screen,
		ocr:    ocr,
		reader: RegionReader{OCR: ocr, MinConfidence: opts.MinConfidence},
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b base) capture(ctx context.Context) (image.Image, error) {
	img, err := b.screen.CaptureFullScreen(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, "capture screen", err)
	}
	if b.opts.ScreenshotDir != "" {
		if err := b.saveCapture(img); err != nil {
			b.logger.Warn("save capture", "dir", b.opts.ScreenshotDir, "error", err)
		}
	}
	return img, nil
}

func (b base) saveCapture(img image.Image) error {
	if err := os.MkdirAll(b.opts.ScreenshotDir, 0o755); err != nil {
		return err
	}
	name := "capture_" + b.now().Format("20060102_150405.000") + ".png"
	f, err := os.Create(filepath.Join(b.opts.ScreenshotDir, name))
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (b base) readRecord(ctx context.Context, img image.Image, regions []domain.Region, result *extractor.Result) (domain.Record, error) {
	rec, warnings, err := b.reader.Read(ctx, img, regions)
	if err != nil {
		return rec, err
	}
	for _, w := range warnings {
		result.Warnf("%s", w)
		b.logger.Warn(w)
	}
	rec.Meta.CapturedAt = b.now()
	return rec, nil
}

// SingleStrategy reads every region from one capture.
type SingleStrategy struct{ base }

var _ extractor.Strategy = (*SingleStrategy)(nil)

// NewSingleStrategy wires the capture and OCR collaborators.
func NewSingleStrategy(screen ports.Screen, ocr ports.OCR, opts Options, logger *slog.Logger) *SingleStrategy {
	return &SingleStrategy{newBase(screen, ocr, opts, logger)}
}

// Name identifies the strategy inside the registry.
func (s *SingleStrategy) Name() string { return extractor.NameOCRSingle }

// Extract captures the screen once.
func (s *SingleStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	var result extractor.Result
	img, err := s.capture(ctx)
	if err != nil {
		return result, err
	}
	rec, err := s.readRecord(ctx, img, req.Job.Regions, &result)
	if err != nil {
		return result, err
	}
	rec.Meta.PageNumber = 1
	result.Records = append(result.Records, rec)
	result.PagesProcessed = 1
	req.ReportPage(1)
	return result, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
