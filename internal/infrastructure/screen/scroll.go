package screen

import (
	"context"
	"image"
	"log/slog"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/ports"
)

const settleAfterTop = time.Second

// ScrollStrategy captures, reads and scrolls until the view stops changing.
type ScrollStrategy struct{ base }

var _ extractor.Strategy = (*ScrollStrategy)(nil)

// NewScrollStrategy wires the capture and OCR collaborators.
func NewScrollStrategy(screen ports.Screen, ocr ports.OCR, opts Options, logger *slog.Logger) *ScrollStrategy {
	return &ScrollStrategy{newBase(screen, ocr, opts, logger)}
}

// Name identifies the strategy inside the registry.
func (s *ScrollStrategy) Name() string { return extractor.NameOCRScroll }

// Extract scrolls to the top and then walks down the page. It stops after
// SameCount consecutive near-identical captures or MaxScrolls steps.
func (s *ScrollStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	var result extractor.Result
	cfg := req.Job.Scroll

	if err := s.screen.ScrollToTop(ctx); err != nil {
		result.Warnf("scroll to top: %v", err)
		s.logger.Warn("scroll to top failed", "error", err)
	}
	if err := s.sleep(ctx, settleAfterTop); err != nil {
		return result, err
	}

	var previous image.Image
	same := 0
	for step := 0; step < cfg.MaxScrolls; step++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		img, err := s.capture(ctx)
		if err != nil {
			return result, err
		}
		rec, err := s.readRecord(ctx, img, req.Job.Regions, &result)
		if err != nil {
			return result, err
		}
		rec.Meta.ScrollPosition = step
		rec.Set("_scroll_position", itoa(step))
		result.Records = append(result.Records, rec)
		result.PagesProcessed = step + 1
		req.ReportPage(result.PagesProcessed)

		if previous != nil {
			if Similar(previous, img, s.opts.SimilarityThreshold) {
				same++
				s.logger.Debug("capture unchanged", "consecutive", same)
				if same >= s.opts.SameCount {
					s.logger.Info("reached bottom", "steps", step+1)
					break
				}
			} else {
				same = 0
			}
		}
		previous = img

		if err := s.screen.Scroll(ctx, ports.ScrollDown, cfg.ScrollPixels); err != nil {
			return result, domain.NewError(domain.KindFatal, "scroll", err)
		}
		if err := s.sleep(ctx, seconds(cfg.WaitSeconds)); err != nil {
			return result, err
		}
	}
	return result, nil
}
