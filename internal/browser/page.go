package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/wait"
)

const textPollInterval = 100 * time.Millisecond

// ErrNoScreenshotManager is returned by Screenshot when the browser was
// launched without a screenshot manager.
var ErrNoScreenshotManager = errors.New("no screenshot manager configured")

// Page is a single browser tab. Page objects embed it and add
// application-specific selectors and flows.
type Page struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger

	closeOnce sync.Once
}

// Logger returns the page's logger.
func (p *Page) Logger() *zap.Logger {
	return p.logger
}

// run executes actions on this tab, bounded by both ctx and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	timedCtx, timedCancel := context.WithTimeout(opCtx, timeout)
	defer timedCancel()

	if slow := p.browser.cfg.SlowMo; slow > 0 {
		actions = append(actions, chromedp.Sleep(slow))
	}
	if err := chromedp.Run(timedCtx, actions...); err != nil {
		if errors.Is(timedCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return err
	}
	return nil
}

func (p *Page) act(ctx context.Context, action, selector string, actions ...chromedp.Action) error {
	p.logger.Debug("Page action.", zap.String("action", action), zap.String("selector", selector))
	if err := p.run(ctx, p.browser.actionTimeout(), actions...); err != nil {
		return fmt.Errorf("%s action failed for selector '%s': %w", action, selector, err)
	}
	return nil
}

// Goto navigates to path, resolved against the application base URL, and
// waits for the document body.
func (p *Page) Goto(ctx context.Context, path string) error {
	target, err := p.browser.resolve(path)
	if err != nil {
		return err
	}
	p.logger.Debug("Navigating.", zap.String("url", target))

	timeout := p.browser.navigationTimeout()
	if err := p.run(ctx, timeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}
	return nil
}

// Click waits for selector to be visible and clicks it.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.act(ctx, "click", selector,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Fill clears the input matching selector and types text into it.
func (p *Page) Fill(ctx context.Context, selector, text string) error {
	return p.act(ctx, "fill", selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Press sends a key, for example kb.Enter, to the element matching selector.
func (p *Page) Press(ctx context.Context, selector, key string) error {
	return p.act(ctx, "press", selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, key, chromedp.ByQuery),
	)
}

// Text returns the visible text of the element matching selector.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := p.act(ctx, "text", selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	return strings.TrimSpace(text), err
}

// Value returns the current value of the form control matching selector.
func (p *Page) Value(ctx context.Context, selector string) (string, error) {
	var value string
	err := p.act(ctx, "value", selector, chromedp.Value(selector, &value, chromedp.ByQuery))
	return value, err
}

// Attribute returns the named attribute of the element matching selector and
// whether it is present.
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := p.act(ctx, "attribute", selector, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

// IsVisible reports whether selector currently matches a rendered element.
// It does not wait.
func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
	})()`, jsString(selector))
	err := p.act(ctx, "visibility check", selector, chromedp.Evaluate(script, &visible))
	return visible, err
}

// WaitVisible blocks until selector is visible or the action timeout elapses.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.act(ctx, "wait visible", selector, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitHidden blocks until selector is no longer visible.
func (p *Page) WaitHidden(ctx context.Context, selector string) error {
	return p.act(ctx, "wait hidden", selector, chromedp.WaitNotVisible(selector, chromedp.ByQuery))
}

// WaitForText polls until the element matching selector contains want.
func (p *Page) WaitForText(ctx context.Context, selector, want string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.innerText : "";
	})()`, jsString(selector))

	var last string
	err := wait.Poll(ctx, textPollInterval, p.browser.actionTimeout(), func(ctx context.Context) (bool, error) {
		if err := p.run(ctx, p.browser.actionTimeout(), chromedp.Evaluate(script, &last)); err != nil {
			return false, err
		}
		return strings.Contains(last, want), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for text %q in selector '%s' (last seen %q): %w", want, selector, last, err)
	}
	return nil
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.act(ctx, "title", "document", chromedp.Title(&title))
	return title, err
}

// URL returns the current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var location string
	err := p.act(ctx, "location", "document", chromedp.Location(&location))
	return location, err
}

// Evaluate runs a JavaScript expression and decodes its result into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	p.logger.Debug("Evaluating script.", zap.Int("length", len(expression)))
	if err := p.run(ctx, p.browser.actionTimeout(), chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// SetExtraHeaders adds headers to every request the tab makes from now on.
func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return p.act(ctx, "set headers", "network", network.Enable(), network.SetExtraHTTPHeaders(h))
}

// SetViewport overrides the tab's device metrics.
func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	return p.act(ctx, "set viewport", "emulation",
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	)
}

// Screenshot captures the tab and stores it via the screenshot manager,
// returning the file path.
func (p *Page) Screenshot(ctx context.Context, testName, label string) (string, error) {
	shots := p.browser.shots
	if shots == nil {
		return "", ErrNoScreenshotManager
	}

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if cfg := p.browser.shotCfg; cfg.FullPage {
		quality := cfg.Quality
		if quality <= 0 || quality > 100 {
			quality = 100
		}
		action = chromedp.FullScreenshot(&buf, quality)
	}
	if err := p.run(ctx, p.browser.actionTimeout(), action); err != nil {
		return "", fmt.Errorf("screenshot capture failed: %w", err)
	}
	return shots.Save(testName, label, buf)
}

// CaptureOnFailure registers a cleanup on tb that screenshots the tab if
// the test failed. It is a no-op when on_failure is disabled.
func (p *Page) CaptureOnFailure(tb testing.TB) {
	if !p.browser.shotCfg.OnFailure {
		return
	}
	tb.Cleanup(func() {
		if !tb.Failed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.browser.actionTimeout())
		defer cancel()
		path, err := p.Screenshot(ctx, tb.Name(), "failure")
		if err != nil {
			tb.Logf("failure screenshot not captured: %v", err)
			return
		}
		tb.Logf("failure screenshot: %s", path)
	})
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.browser.forget(p)
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case err = <-done:
		case <-time.After(shutdownTimeout):
			p.logger.Warn("Tab close timed out.")
		}
		p.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

func jsString(s string) string {
	quoted, err := jsoniter.MarshalToString(s)
	if err != nil {
		// A Go string always encodes.
		return `""`
	}
	return quoted
}
