// Package browser drives the shared Edge instance over the Chrome DevTools
// Protocol with playwright-go. It serves both the DOM collaborator and the
// capture/input collaborator; coordinates are viewport pixels.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// Config locates the browser debugging endpoint.
type Config struct {
	// CDPURL is tried first, e.g. http://127.0.0.1:9222.
	CDPURL string `yaml:"cdpUrl"`
	// Ports are probed on localhost when CDPURL is empty or unreachable.
	Ports          []int         `yaml:"ports"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	InstallDriver  bool          `yaml:"installDriver"`
}

// DefaultConfig probes the usual remote debugging ports.
func DefaultConfig() Config {
	return Config{Ports: []int{9222, 9223, 9224, 9225}, ConnectTimeout: 10 * time.Second}
}

// Session is a connection to one browser page.
type Session struct {
	mu      sync.Mutex
	runtime *pw.Playwright
	browser pw.Browser
	page    pw.Page
	logger  *slog.Logger
}

var (
	_ ports.Screen  = (*Session)(nil)
	_ ports.Browser = (*Session)(nil)
)

// Connect starts the playwright driver and attaches to the first reachable
// debugging endpoint.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InstallDriver {
		if err := pw.Install(&pw.RunOptions{SkipInstallBrowsers: true}); err != nil {
			logger.Warn("playwright driver install", "error", err)
		}
	}

	runtime, err := pw.Run()
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, "start playwright", err)
	}

	var lastErr error
	for _, endpoint := range Endpoints(cfg) {
		if err := ctx.Err(); err != nil {
			_ = runtime.Stop()
			return nil, err
		}
		opts := pw.BrowserTypeConnectOverCDPOptions{}
		if cfg.ConnectTimeout > 0 {
			opts.Timeout = pw.Float(float64(cfg.ConnectTimeout.Milliseconds()))
		}
		b, err := runtime.Chromium.ConnectOverCDP(endpoint, opts)
		if err != nil {
			lastErr = err
			logger.Debug("cdp endpoint unavailable", "endpoint", endpoint, "error", err)
			continue
		}
		page, err := firstPage(b)
		if err != nil {
			_ = b.Close()
			lastErr = err
			continue
		}
		logger.Info("connected to browser", "endpoint", endpoint, "url", page.URL())
		return &Session{runtime: runtime, browser: b, page: page, logger: logger}, nil
	}

	_ = runtime.Stop()
	return nil, domain.NewError(domain.KindFatal, "no browser debugging endpoint reachable", lastErr)
}

// Endpoints lists the CDP URLs Connect will try, in order.
func Endpoints(cfg Config) []string {
	var out []string
	if cfg.CDPURL != "" {
		out = append(out, cfg.CDPURL)
	}
	for _, p := range cfg.Ports {
		u := fmt.Sprintf("http://127.0.0.1:%d", p)
		if u != cfg.CDPURL {
			out = append(out, u)
		}
	}
	return out
}

func firstPage(b pw.Browser) (pw.Page, error) {
	for _, c := range b.Contexts() {
		for _, p := range c.Pages() {
			if !strings.HasPrefix(p.URL(), "devtools://") {
				return p, nil
			}
		}
	}
	contexts := b.Contexts()
	if len(contexts) == 0 {
		return nil, fmt.Errorf("browser has no contexts")
	}
	return contexts[0].NewPage()
}

// Close detaches from the browser without closing the user's window.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = nil
	s.browser = nil
	if s.runtime == nil {
		return nil
	}
	err := s.runtime.Stop()
	s.runtime = nil
	return err
}

func (s *Session) do(ctx context.Context, op string, fn func(pw.Page) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return domain.NewError(domain.KindFatal, "browser session closed", nil)
	}
	if err := fn(s.page); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CaptureFullScreen screenshots the visible viewport.
func (s *Session) CaptureFullScreen(ctx context.Context) (image.Image, error) {
	return s.screenshot(ctx, pw.PageScreenshotOptions{})
}

// CaptureRegion screenshots part of the viewport.
func (s *Session) CaptureRegion(ctx context.Context, rect domain.Rect) (image.Image, error) {
	return s.screenshot(ctx, pw.PageScreenshotOptions{Clip: &pw.Rect{
		X: float64(rect.X), Y: float64(rect.Y), Width: float64(rect.Width), Height: float64(rect.Height),
	}})
}

func (s *Session) screenshot(ctx context.Context, opts pw.PageScreenshotOptions) (image.Image, error) {
	var raw []byte
	err := s.do(ctx, "screenshot", func(p pw.Page) error {
		var err error
		raw, err = p.Screenshot(opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// ClickAt clicks at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y int) error {
	return s.do(ctx, "click", func(p pw.Page) error {
		return p.Mouse().Click(float64(x), float64(y))
	})
}

// Scroll scrolls the document, falling back to the mouse wheel when the
// page refuses script scrolling.
func (s *Session) Scroll(ctx context.Context, dir ports.ScrollDirection, pixels int) error {
	delta := pixels
	if dir == ports.ScrollUp {
		delta = -pixels
	}
	return s.do(ctx, "scroll", func(p pw.Page) error {
		if _, err := p.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta)); err == nil {
			return nil
		}
		return p.Mouse().Wheel(0, float64(delta))
	})
}

// ScrollToTop scrolls the document to its origin.
func (s *Session) ScrollToTop(ctx context.Context) error {
	return s.do(ctx, "scroll to top", func(p pw.Page) error {
		_, err := p.Evaluate("window.scrollTo(0, 0)")
		return err
	})
}

// TypeText types into the focused element.
func (s *Session) TypeText(ctx context.Context, text string) error {
	return s.do(ctx, "type", func(p pw.Page) error {
		return p.Keyboard().Type(text)
	})
}

// PressKey presses a key or chord such as "enter" or "ctrl+a".
func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.do(ctx, "press "+key, func(p pw.Page) error {
		return p.Keyboard().Press(KeyName(key))
	})
}

// Focus brings the page to the front. Callers retry through retry.Do.
func (s *Session) Focus(ctx context.Context) error {
	err := s.do(ctx, "focus", func(p pw.Page) error {
		return p.BringToFront()
	})
	if err != nil {
		return domain.NewError(domain.KindTransient, "browser window not focused", err)
	}
	return nil
}

// Navigate loads url and waits for DOMContentLoaded.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.do(ctx, "navigate", func(p pw.Page) error {
		_, err := p.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateDomcontentloaded})
		return err
	})
}

// CurrentURL returns the page URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := s.do(ctx, "url", func(p pw.Page) error {
		url = p.URL()
		return nil
	})
	return url, err
}

// WaitForSelector blocks until selector is attached or timeout passes.
func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return s.do(ctx, "wait for "+selector, func(p pw.Page) error {
		return p.Locator(selector).First().WaitFor(pw.LocatorWaitForOptions{
			State:   pw.WaitForSelectorStateAttached,
			Timeout: pw.Float(float64(timeout.Milliseconds())),
		})
	})
}

// Evaluate runs a JavaScript expression in the page.
func (s *Session) Evaluate(ctx context.Context, script string) (any, error) {
	var out any
	err := s.do(ctx, "evaluate", func(p pw.Page) error {
		var err error
		out, err = p.Evaluate(script)
		return err
	})
	return out, err
}

// HTML returns the rendered DOM, including live input values.
func (s *Session) HTML(ctx context.Context) (string, error) {
	v, err := s.Evaluate(ctx, snapshotScript)
	if err != nil {
		return "", err
	}
	html, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected snapshot type %T", v)
	}
	return html, nil
}

// snapshotScript serializes a clone of the document with live input values
// copied into value attributes. The user's page is left untouched.
const snapshotScript = `(() => {
  const clone = document.documentElement.cloneNode(true);
  const live = document.querySelectorAll('input');
  clone.querySelectorAll('input').forEach((el, i) => {
    if (live[i]) el.setAttribute('value', live[i].value);
  });
  return clone.outerHTML;
})()`
