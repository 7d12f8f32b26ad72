package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	sampleCount  = 3
	sampleLength = 100
)

// SelectorReport summarises what a selector matches on a page.
type SelectorReport struct {
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
}

// FieldReport summarises a field selector evaluated inside containers.
type FieldReport struct {
	ContainerCount int      `json:"container_count"`
	FoundCount     int      `json:"found_count"`
	Samples        []string `json:"samples"`
}

// ProbeSelector evaluates a selector against HTML.
func ProbeSelector(html, selector string) (SelectorReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return SelectorReport{}, fmt.Errorf("parse document: %w", err)
	}

	matches := doc.Find(selector)
	report := SelectorReport{Count: matches.Length(), Samples: []string{}}
	matches.EachWithBreak(func(i int, s *goquery.Selection) bool {
		report.Samples = append(report.Samples, truncate(normalizeSpace(s.Text()), sampleLength))
		return i+1 < sampleCount
	})
	return report, nil
}

// ProbeFieldSelector evaluates a field selector relative to each container.
func ProbeFieldSelector(html, containerSelector, fieldName, fieldSelector string) (FieldReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return FieldReport{}, fmt.Errorf("parse document: %w", err)
	}

	containers := doc.Find(containerSelector)
	report := FieldReport{ContainerCount: containers.Length(), Samples: []string{}}
	containers.Each(func(_ int, c *goquery.Selection) {
		el := c.Find(fieldSelector).First()
		if el.Length() == 0 {
			return
		}
		report.FoundCount++
		if len(report.Samples) < sampleCount {
			report.Samples = append(report.Samples, truncate(CleanValue(fieldName, elementText(el)), sampleLength))
		}
	})
	return report, nil
}

// ProbeSelectorLive runs ProbeSelector against the page open in the browser.
func (d *DOMStrategy) ProbeSelectorLive(ctx context.Context, selector string) (SelectorReport, error) {
	html, err := d.browser.HTML(ctx)
	if err != nil {
		return SelectorReport{}, fmt.Errorf("read page html: %w", err)
	}
	return ProbeSelector(html, selector)
}

// ProbeFieldSelectorLive runs ProbeFieldSelector against the open page.
func (d *DOMStrategy) ProbeFieldSelectorLive(ctx context.Context, containerSelector, fieldName, fieldSelector string) (FieldReport, error) {
	html, err := d.browser.HTML(ctx)
	if err != nil {
		return FieldReport{}, fmt.Errorf("read page html: %w", err)
	}
	return ProbeFieldSelector(html, containerSelector, fieldName, fieldSelector)
}

// PageHTML returns the current page markup, e.g. for selector suggestions.
func (d *DOMStrategy) PageHTML(ctx context.Context) (string, error) {
	return d.browser.HTML(ctx)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
