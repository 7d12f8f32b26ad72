// Package extractor defines the strategy contract shared by OCR, DOM and
// spreadsheet extraction, and the registry that resolves a job to one.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"PageHarvester/internal/domain"
)

// Strategy names.
const (
	NameOCRSingle     = "ocr_single"
	NameOCRScroll     = "ocr_scroll"
	NameOCRPagination = "ocr_pagination"
	NameDOM           = "dom"
	NameCSV           = "csv_analysis"
)

// ErrNoItems means a selector-based strategy matched nothing. It is a run
// failure, unlike a run where every item was a duplicate.
var ErrNoItems = errors.New("no items found")

// ErrSkipped means the strategy decided not to run (e.g. outside active hours).
var ErrSkipped = errors.New("extraction skipped")

// Request carries everything a strategy needs for one run.
type Request struct {
	Job domain.Job
	// OnPage is called after each page or scroll step with the running count.
	OnPage func(pages int)
}

// ReportPage notifies the progress hook, if any.
func (r Request) ReportPage(pages int) {
	if r.OnPage != nil {
		r.OnPage(pages)
	}
}

// Result is what a strategy produced. Records keep extraction order.
type Result struct {
	Records        []domain.Record
	PagesProcessed int
	Warnings       []string
}

// Warnf appends a formatted warning.
func (r *Result) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Strategy turns a live page, screen or file into records.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, req Request) (Result, error)
}

// Registry keeps a mapping from strategy names to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(s Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[s.Name()] = s
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return nil, domain.NewError(domain.KindConfig, fmt.Sprintf("strategy %s is not registered", name), nil)
}

// ForJob resolves the strategy a job's type and page mode call for.
func (r *Registry) ForJob(job domain.Job) (Strategy, error) {
	name, err := StrategyName(job)
	if err != nil {
		return nil, err
	}
	return r.Resolve(name)
}

// StrategyName maps a job to a strategy name.
func StrategyName(job domain.Job) (string, error) {
	switch job.Type {
	case domain.JobTypeDOM:
		return NameDOM, nil
	case domain.JobTypeCSV:
		return NameCSV, nil
	case domain.JobTypeOCR:
		switch job.PageMode {
		case domain.PageModeSingle, "":
			return NameOCRSingle, nil
		case domain.PageModeScroll:
			return NameOCRScroll, nil
		case domain.PageModePagination:
			return NameOCRPagination, nil
		}
		return "", domain.NewError(domain.KindConfig, "unknown page mode "+string(job.PageMode), nil)
	}
	return "", domain.NewError(domain.KindConfig, "unknown job type "+string(job.Type), nil)
}
