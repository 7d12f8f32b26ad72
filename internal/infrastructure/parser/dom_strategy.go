package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/retry"
)

const waitForSelectorTimeout = 10 * time.Second

// DOMStrategy extracts records from the live browser page with CSS selectors.
// The rendered DOM is snapshotted once and evaluated with goquery.
type DOMStrategy struct {
	browser ports.Browser
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	retry   retry.Config
}

var _ extractor.Strategy = (*DOMStrategy)(nil)

// NewDOMStrategy wires the browser collaborator.
func NewDOMStrategy(browser ports.Browser, logger *slog.Logger) *DOMStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &DOMStrategy{
		browser: browser,
		logger:  logger,
		sleep:   sleepCtx,
		retry:   retry.DefaultConfig(),
	}
}

// Name identifies the strategy inside the registry.
func (d *DOMStrategy) Name() string {
	return extractor.NameDOM
}

// Extract navigates when needed, waits for dynamic content and evaluates the
// selector map against the page.
func (d *DOMStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	var result extractor.Result
	cfg := req.Job.DOM
	if cfg.ContainerSelector == "" {
		return result, domain.NewError(domain.KindConfig, "container selector is empty", nil)
	}

	html, err := d.loadPage(ctx, req.Job.URL, cfg, &result)
	if err != nil {
		return result, err
	}

	records, containers, err := ExtractRecords(html, cfg)
	if err != nil {
		return result, domain.NewError(domain.KindConfig, "evaluate selectors", err)
	}
	result.PagesProcessed = 1
	req.ReportPage(1)

	if containers == 0 {
		return result, domain.NewError(domain.KindExtractionEmpty,
			fmt.Sprintf("container selector %q matched nothing", cfg.ContainerSelector), extractor.ErrNoItems)
	}
	if len(records) == 0 {
		return result, domain.NewError(domain.KindExtractionEmpty,
			fmt.Sprintf("%d containers matched but every field was empty", containers), extractor.ErrNoItems)
	}
	if dropped := containers - len(records); dropped > 0 {
		d.logger.Debug("dropped empty containers", "count", dropped)
	}

	now := time.Now().UTC()
	for i := range records {
		records[i].Meta.CapturedAt = now
		records[i].Meta.PageNumber = 1
	}
	result.Records = records
	d.logger.Info("dom extraction complete", "containers", containers, "items", len(records))
	return result, nil
}

func (d *DOMStrategy) loadPage(ctx context.Context, url string, cfg domain.DOMConfig, result *extractor.Result) (string, error) {
	if d.browser == nil {
		return "", domain.NewError(domain.KindFatal, "browser is not connected", nil)
	}

	if url != "" {
		current, err := d.browser.CurrentURL(ctx)
		if err != nil {
			return "", domain.NewError(domain.KindFatal, "read current url", err)
		}
		if current != url {
			d.logger.Info("navigating", "url", url)
			err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
				return d.browser.Navigate(ctx, url)
			})
			if err != nil {
				return "", domain.NewError(domain.KindFatal, "navigate", err)
			}
		}
	}

	if cfg.WaitForSelector != "" {
		if err := d.browser.WaitForSelector(ctx, cfg.WaitForSelector, waitForSelectorTimeout); err != nil {
			result.Warnf("wait for %s: %v", cfg.WaitForSelector, err)
			d.logger.Warn("wait for selector failed, continuing", "selector", cfg.WaitForSelector, "error", err)
		}
	}

	if cfg.WaitSeconds > 0 {
		if err := d.sleep(ctx, seconds(cfg.WaitSeconds)); err != nil {
			return "", err
		}
	}

	html, err := d.browser.HTML(ctx)
	if err != nil {
		return "", domain.NewError(domain.KindFatal, "read page html", err)
	}
	return html, nil
}

// ExtractRecords evaluates a selector map against an HTML document. It
// returns the non-empty records and the number of containers matched.
func ExtractRecords(html string, cfg domain.DOMConfig) ([]domain.Record, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("parse document: %w", err)
	}

	containers := doc.Find(cfg.ContainerSelector)
	fields := cfg.OrderedFields()
	records := make([]domain.Record, 0, containers.Length())

	containers.Each(func(_ int, container *goquery.Selection) {
		var rec domain.Record
		for _, name := range fields {
			value := ""
			if el := container.Find(cfg.FieldSelectors[name]).First(); el.Length() > 0 {
				value = CleanValue(name, elementText(el))
			}
			rec.Set(name, value)
		}
		if !rec.Empty() {
			records = append(records, rec)
		}
	})

	return records, containers.Length(), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
