// Package actions runs the declarative steps that prepare a page before
// extraction.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/infrastructure/screen"
	"PageHarvester/internal/ports"
)

const defaultTextConfidence = 0.7

var defaultWaitAfter = map[domain.ActionType]float64{
	domain.ActionClickCoordinates: 2,
	domain.ActionClickOCR:         2,
	domain.ActionScroll:           1,
	domain.ActionTypeText:         1,
	domain.ActionPressKey:         0.5,
}

// Outcome is the result of one action.
type Outcome struct {
	Index   int               `json:"index"`
	Type    domain.ActionType `json:"type"`
	Success bool              `json:"success"`
	Detail  string            `json:"detail,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Result summarises a sequence run. Executed counts actions that ran,
// including the one that stopped the sequence.
type Result struct {
	Success  bool      `json:"success"`
	Executed int       `json:"executed"`
	Stopped  bool      `json:"stopped"`
	Outcomes []Outcome `json:"outcomes"`
}

// Executor runs actions against the screen collaborator.
type Executor struct {
	screen ports.Screen
	ocr    ports.OCR
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires the input and OCR collaborators.
func NewExecutor(screen ports.Screen, ocr ports.OCR, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{screen: screen, ocr: ocr, logger: logger, sleep: sleepCtx}
}

// Execute runs actions in order. A failing action marked StopOnFailure ends
// the sequence; other failures are recorded and the sequence continues.
// The returned error is only set on context cancellation.
func (e *Executor) Execute(ctx context.Context, list []domain.Action) (Result, error) {
	res := Result{Success: true, Outcomes: make([]Outcome, 0, len(list))}
	for i, action := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		detail, err := e.run(ctx, action)
		res.Executed++
		out := Outcome{Index: i, Type: action.Type, Success: err == nil, Detail: detail}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			out.Error = err.Error()
			res.Success = false
			e.logger.Warn("action failed", "index", i, "type", action.Type, "error", err)
		} else {
			e.logger.Debug("action done", "index", i, "type", action.Type, "detail", detail)
		}
		res.Outcomes = append(res.Outcomes, out)

		if err != nil && action.StopOnFailure {
			res.Stopped = true
			e.logger.Warn("stopping action sequence", "executed", res.Executed, "total", len(list))
			return res, nil
		}
	}
	return res, nil
}

// ExecuteOne runs a single action, for dashboard testing.
func (e *Executor) ExecuteOne(ctx context.Context, action domain.Action) (Outcome, error) {
	res, err := e.Execute(ctx, []domain.Action{action})
	if err != nil {
		return Outcome{}, err
	}
	return res.Outcomes[0], nil
}

func (e *Executor) run(ctx context.Context, a domain.Action) (string, error) {
	var (
		detail string
		err    error
	)
	switch a.Type {
	case domain.ActionClickCoordinates:
		detail, err = e.clickCoordinates(ctx, a)
	case domain.ActionClickOCR:
		detail, err = e.clickText(ctx, a)
	case domain.ActionWait:
		d := a.Duration
		if d <= 0 {
			d = 1
		}
		return fmt.Sprintf("waited %.1fs", d), e.sleep(ctx, seconds(d))
	case domain.ActionScroll:
		detail, err = e.scroll(ctx, a)
	case domain.ActionTypeText:
		err = e.screen.TypeText(ctx, a.Text)
		detail = fmt.Sprintf("typed %d characters", len([]rune(a.Text)))
	case domain.ActionPressKey:
		if a.Key == "" {
			return "", domain.NewError(domain.KindConfig, "press_key needs a key", nil)
		}
		err = e.screen.PressKey(ctx, a.Key)
		detail = "pressed " + a.Key
	default:
		return "", domain.NewError(domain.KindConfig, fmt.Sprintf("unknown action type %q", a.Type), nil)
	}
	if err != nil {
		return detail, err
	}
	return detail, e.sleep(ctx, seconds(waitAfter(a)))
}

func (e *Executor) clickCoordinates(ctx context.Context, a domain.Action) (string, error) {
	clicks := a.Clicks
	if clicks <= 0 {
		clicks = 1
	}
	for i := 0; i < clicks; i++ {
		if err := e.screen.ClickAt(ctx, a.X, a.Y); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("clicked (%d, %d) x%d", a.X, a.Y, clicks), nil
}

func (e *Executor) clickText(ctx context.Context, a domain.Action) (string, error) {
	if strings.TrimSpace(a.SearchText) == "" {
		return "", domain.NewError(domain.KindConfig, "click_ocr needs search_text", nil)
	}
	if e.ocr == nil {
		return "", domain.NewError(domain.KindConfig, "ocr is not configured", nil)
	}
	threshold := a.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultTextConfidence
	}

	img, err := e.screen.CaptureFullScreen(ctx)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	pt, conf, ok, err := screen.FindText(ctx, e.ocr, img, a.SearchText, a.SearchRegion, threshold)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("text %q not found above confidence %.2f", a.SearchText, threshold)
	}
	if err := e.screen.ClickAt(ctx, pt.X, pt.Y); err != nil {
		return "", err
	}
	return fmt.Sprintf("clicked %q at (%d, %d) confidence %.2f", a.SearchText, pt.X, pt.Y, conf), nil
}

func (e *Executor) scroll(ctx context.Context, a domain.Action) (string, error) {
	amount := a.Amount
	if amount <= 0 {
		amount = 300
	}
	dir := ports.ScrollDown
	switch strings.ToLower(a.Direction) {
	case "", "down":
	case "up":
		dir = ports.ScrollUp
	default:
		return "", domain.NewError(domain.KindConfig, "unknown scroll direction "+a.Direction, nil)
	}
	if err := e.screen.Scroll(ctx, dir, amount); err != nil {
		return "", err
	}
	return fmt.Sprintf("scrolled %s %dpx", dir, amount), nil
}

func waitAfter(a domain.Action) float64 {
	if a.WaitAfter != nil {
		return *a.WaitAfter
	}
	return defaultWaitAfter[a.Type]
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
