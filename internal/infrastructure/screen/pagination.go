package screen

import (
	"context"
	"image"
	"log/slog"
	"strconv"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/ports"
)

// PaginationStrategy reads each page and clicks "next" until it disappears
// or the page stops changing.
type PaginationStrategy struct{ base }

var _ extractor.Strategy = (*PaginationStrategy)(nil)

// NewPaginationStrategy wires the capture and OCR collaborators.
func NewPaginationStrategy(screen ports.Screen, ocr ports.OCR, opts Options, logger *slog.Logger) *PaginationStrategy {
	return &PaginationStrategy{newBase(screen, ocr, opts, logger)}
}

// Name identifies the strategy inside the registry.
func (p *PaginationStrategy) Name() string { return extractor.NameOCRPagination }

// Extract walks up to MaxPages pages.
func (p *PaginationStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	var result extractor.Result
	cfg := req.Job.Pagination

	same := 0
	for page := 1; page <= cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		img, err := p.capture(ctx)
		if err != nil {
			return result, err
		}
		rec, err := p.readRecord(ctx, img, req.Job.Regions, &result)
		if err != nil {
			return result, err
		}
		rec.Meta.PageNumber = page
		rec.Set("_page_number", itoa(page))
		result.Records = append(result.Records, rec)
		result.PagesProcessed = page
		req.ReportPage(page)

		target, found, err := p.nextButton(ctx, img, cfg)
		if err != nil {
			return result, err
		}
		if !found {
			p.logger.Info("no next control, stopping", "pages", page)
			break
		}

		if err := p.screen.ClickAt(ctx, target.X, target.Y); err != nil {
			return result, domain.NewError(domain.KindFatal, "click next", err)
		}
		if err := p.sleep(ctx, seconds(cfg.WaitSeconds)); err != nil {
			return result, err
		}

		after, err := p.capture(ctx)
		if err != nil {
			return result, err
		}
		if Similar(img, after, p.opts.SimilarityThreshold) {
			same++
			p.logger.Warn("page unchanged after click", "consecutive", same)
			if same >= p.opts.SameCount {
				break
			}
		} else {
			same = 0
		}
	}
	return result, nil
}

func (p *PaginationStrategy) nextButton(ctx context.Context, img image.Image, cfg domain.PaginationConfig) (image.Point, bool, error) {
	switch cfg.Mode {
	case domain.NextByCoordinates, "":
		if cfg.X == 0 && cfg.Y == 0 {
			return image.Point{}, false, domain.NewError(domain.KindConfig, "pagination coordinates are not set", nil)
		}
		return image.Point{X: cfg.X, Y: cfg.Y}, true, nil
	case domain.NextByText:
		text := cfg.Text
		if text == "" {
			text = "Next"
		}
		search := cfg.SearchRegion
		if search == nil {
			b := img.Bounds()
			h := p.opts.SearchHeight
			if h > b.Dy() {
				h = b.Dy()
			}
			search = &domain.Rect{X: 0, Y: b.Dy() - h, Width: b.Dx(), Height: h}
		}
		pt, _, ok, err := FindText(ctx, p.ocr, img, text, search, p.opts.NextButtonConf)
		if err != nil {
			return image.Point{}, false, err
		}
		return pt, ok, nil
	}
	return image.Point{}, false, domain.NewError(domain.KindConfig, "unknown pagination mode "+string(cfg.Mode), nil)
}

func itoa(i int) string { return strconv.Itoa(i) }
