package usecase

import (
	"context"
	"fmt"

	"PageHarvester/internal/dedup"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/message"
)

// PreviewItem is one extracted record as a dry run sees it.
type PreviewItem struct {
	Fields    []domain.Field     `json:"fields"`
	Hash      domain.ContentHash `json:"hash"`
	IsNew     bool               `json:"is_new"`
	Message   string             `json:"message"`
	LowConfig []string           `json:"low_confidence,omitempty"`
}

// Preview is the outcome of a dry run.
type Preview struct {
	Strategy       string        `json:"strategy"`
	PagesProcessed int           `json:"pages_processed"`
	Items          []PreviewItem `json:"items"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// DryRun extracts and classifies records for job without storing, sending or
// logging anything. Pre-extraction actions are not run. The job need not be
// saved; classification against history only happens when it has an id.
func (p *Pipeline) DryRun(ctx context.Context, job domain.Job) (Preview, error) {
	job.ApplyDefaults()
	if err := job.Validate(); err != nil {
		return Preview{}, err
	}
	strategy, err := p.registry.ForJob(job)
	if err != nil {
		return Preview{}, err
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	result, err := strategy.Extract(ctx, extractor.Request{Job: job})
	preview := Preview{
		Strategy:       strategy.Name(),
		PagesProcessed: result.PagesProcessed,
		Warnings:       result.Warnings,
		Items:          make([]PreviewItem, 0, len(result.Records)),
	}
	if err != nil {
		return preview, err
	}

	for _, record := range result.Records {
		if record.Empty() {
			continue
		}
		c := dedup.Classification{IsNew: true, Hash: dedup.Hash(record)}
		if job.ID > 0 && job.Deduplicate {
			c, err = p.dedup.Classify(ctx, job.ID, record)
			if err != nil {
				return preview, fmt.Errorf("classify: %w", err)
			}
		}
		text, _ := message.Render(job.Template, record)
		preview.Items = append(preview.Items, PreviewItem{
			Fields:    record.Fields,
			Hash:      c.Hash,
			IsNew:     c.IsNew,
			Message:   text,
			LowConfig: record.Meta.LowConfidence,
		})
	}
	return preview, nil
}
