// Package browsertest launches a headless browser for integration tests and
// skips them on machines without Chrome.
package browsertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/e2e-harness/internal/browser"
	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/screenshot"
)

// ExecPathEnv overrides browser discovery.
const ExecPathEnv = "HARNESS_BROWSER_EXEC_PATH"

var candidates = []string{
	"headless-shell",
	"headless_shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// FindChrome returns a usable browser binary, or "" if none is installed.
func FindChrome() string {
	if p := os.Getenv(ExecPathEnv); p != "" {
		return p
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Fixture is a launched browser pointed at a test server.
type Fixture struct {
	Browser *browser.Browser
	Config  *config.Config
	Shots   *screenshot.Manager
	Logger  *zap.Logger
	Server  *httptest.Server
}

// New serves handler over httptest and launches a headless browser whose
// base URL is the server. The test is skipped when no browser is available.
func New(t *testing.T, handler http.Handler) *Fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in -short mode")
	}
	execPath := FindChrome()
	if execPath == "" {
		t.Skipf("no Chrome binary found; set %s to run browser tests", ExecPathEnv)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.Headless = true
	cfg.BrowserCfg.ExecPath = execPath
	cfg.BrowserCfg.DefaultTimeout = 10 * time.Second
	cfg.BrowserCfg.Args = append(cfg.BrowserCfg.Args, "user-data-dir="+t.TempDir())
	cfg.ScreenshotCfg.Dir = t.TempDir()
	cfg.ScreenshotCfg.FullPage = false
	cfg.SetAppBaseURL(server.URL)

	shots, err := screenshot.New(cfg.Screenshot(), logger)
	if err != nil {
		t.Fatalf("screenshot manager: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	b, err := browser.Launch(ctx, cfg, shots, logger)
	if err != nil {
		cancel()
		t.Fatalf("failed to launch browser at %s: %v", execPath, err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Logf("browser close: %v", err)
		}
		cancel()
	})

	return &Fixture{Browser: b, Config: cfg, Shots: shots, Logger: logger, Server: server}
}

// NewPage opens a tab that is closed when the test ends.
func (f *Fixture) NewPage(t *testing.T) *browser.Page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page, err := f.Browser.NewPage(ctx)
	if err != nil {
		t.Fatalf("failed to open page: %v", err)
	}
	t.Cleanup(func() { _ = page.Close() })
	return page
}
