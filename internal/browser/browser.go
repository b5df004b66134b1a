// Package browser drives Chrome through the DevTools protocol and exposes a
// Page type that page objects are built on.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/screenshot"
)

const (
	defaultActionTimeout     = 15 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	shutdownTimeout          = 10 * time.Second
)

// Browser is a running Chrome process. Each Page is a tab in it.
type Browser struct {
	cfg     config.BrowserConfig
	shotCfg config.ScreenshotConfig
	baseURL *url.URL
	shots   *screenshot.Manager
	logger  *zap.Logger

	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
}

// Launch starts Chrome with options derived from cfg. shots may be nil, in
// which case Page.Screenshot fails.
func Launch(ctx context.Context, cfg config.Interface, shots *screenshot.Manager, logger *zap.Logger) (*Browser, error) {
	bcfg := cfg.Browser()
	base, err := parseBase(cfg.App().BaseURL)
	if err != nil {
		return nil, err
	}

	log := logger.Named("browser")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(bcfg)...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	// The first Run on an empty context starts the process.
	if err := chromedp.Run(rootCtx); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log.Info("Browser launched.",
		zap.Bool("headless", bcfg.Headless),
		zap.Int("viewport_width", bcfg.ViewportWidth),
		zap.Int("viewport_height", bcfg.ViewportHeight),
	)

	return &Browser{
		cfg:         bcfg,
		shotCfg:     cfg.Screenshot(),
		baseURL:     base,
		shots:       shots,
		logger:      log,
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		pages:       make(map[*Page]struct{}),
	}, nil
}

// NewPage opens a new tab.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser is closed")
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.rootCtx)
	openCtx, openCancel := CombineContext(tabCtx, ctx)
	defer openCancel()
	if err := chromedp.Run(openCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := &Page{
		browser: b,
		ctx:     tabCtx,
		cancel:  tabCancel,
		logger:  b.logger.Named("page"),
	}
	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		if err := p.SetViewport(ctx, b.cfg.ViewportWidth, b.cfg.ViewportHeight); err != nil {
			tabCancel()
			return nil, err
		}
	}

	b.mu.Lock()
	b.pages[p] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) forget(p *Page) {
	b.mu.Lock()
	delete(b.pages, p)
	b.mu.Unlock()
}

// Close closes every open page and stops the browser process.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages := make([]*Page, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	b.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}

	// chromedp.Cancel blocks until the process exits, so bound it.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(b.rootCtx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(shutdownTimeout):
		b.logger.Warn("Browser shutdown timed out, killing process.", zap.Duration("timeout", shutdownTimeout))
	}
	b.rootCancel()
	b.allocCancel()

	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	b.logger.Info("Browser closed.")
	return nil
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(raw)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid app base url %q: must be absolute", raw)
	}
	return base, nil
}

func (b *Browser) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return b.baseURL.ResolveReference(ref).String(), nil
}

func (b *Browser) actionTimeout() time.Duration {
	if b.cfg.DefaultTimeout > 0 {
		return b.cfg.DefaultTimeout
	}
	return defaultActionTimeout
}

func (b *Browser) navigationTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}
