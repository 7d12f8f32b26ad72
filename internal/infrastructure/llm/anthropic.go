package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 2000
)

// Config describes how to reach the Anthropic API.
type Config struct {
	APIKey    string `yaml:"apiKey"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"maxTokens"`
	BaseURL   string `yaml:"baseUrl"`
}

// SelectorSuggester asks Claude for DOM selectors.
type SelectorSuggester struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

var _ ports.SelectorSuggester = (*SelectorSuggester)(nil)

// NewSelectorSuggester builds a client from configuration. An empty API key
// is a configuration error.
func NewSelectorSuggester(cfg Config, logger *slog.Logger) (*SelectorSuggester, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewError(domain.KindConfig, "anthropic api key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &SelectorSuggester{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// SuggestSelectors sends the item HTML and the expected values and parses
// the selectors from the reply.
func (s *SelectorSuggester) SuggestSelectors(ctx context.Context, htmlBlock string, example map[string]string) (ports.SelectorSuggestion, error) {
	if strings.TrimSpace(htmlBlock) == "" {
		return ports.SelectorSuggestion{}, domain.NewError(domain.KindConfig, "html block is required", nil)
	}
	if len(example) == 0 {
		return ports.SelectorSuggestion{}, domain.NewError(domain.KindConfig, "example data is required", nil)
	}
	prompt, err := buildPrompt(htmlBlock, example)
	if err != nil {
		return ports.SelectorSuggestion{}, err
	}

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return ports.SelectorSuggestion{}, domain.NewError(domain.KindTransient, "anthropic request", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	suggestion, err := ParseSuggestion(reply.String())
	if err != nil {
		return ports.SelectorSuggestion{}, err
	}
	s.logger.Info("selectors suggested",
		"container", suggestion.ContainerSelector, "fields", len(suggestion.FieldSelectors))
	return suggestion, nil
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseSuggestion pulls the JSON object out of a model reply, tolerating
// markdown fences and surrounding prose, and validates its shape.
func ParseSuggestion(reply string) (ports.SelectorSuggestion, error) {
	raw := jsonObject.FindString(reply)
	if raw == "" {
		return ports.SelectorSuggestion{}, fmt.Errorf("no json object in reply")
	}
	if err := validateSuggestion([]byte(raw)); err != nil {
		return ports.SelectorSuggestion{}, err
	}
	var out ports.SelectorSuggestion
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ports.SelectorSuggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	return out, nil
}

func buildPrompt(htmlBlock string, example map[string]string) (string, error) {
	exampleJSON, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode example data: %w", err)
	}
	names := make([]string, 0, len(example))
	for name := range example {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("You are a CSS selector expert. Analyze this HTML block and generate CSS selectors.\n\n")
	b.WriteString("HTML Block:\n```html\n")
	b.WriteString(htmlBlock)
	b.WriteString("\n```\n\nExample Data (actual text values from the HTML above):\n```json\n")
	b.Write(exampleJSON)
	b.WriteString("\n```\n\n")
	b.WriteString(`Your task:
1. Identify the outermost container element that wraps this entire item
2. For each field in the example data, find where that EXACT text appears in the HTML
3. Generate a CSS selector that targets that specific element
4. Selectors must be RELATIVE to the container, not absolute paths

Return ONLY this JSON object, with no markdown formatting or explanation:
{"container_selector": "...", "field_selectors": {`)
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: \"...\"", name)
	}
	b.WriteString(`}}

Prefer class-based selectors (e.g. "span.customer-name"); without classes use element plus
nth-child (e.g. "div:nth-child(2) span").`)
	return b.String(), nil
}
