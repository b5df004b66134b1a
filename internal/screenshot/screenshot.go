// Package screenshot stores browser captures under a single results
// directory, named after the test and step that produced them.
package screenshot

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/config"
)

const timestampLayout = "20060102-150405.000"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager owns the screenshot directory.
type Manager struct {
	fs     billy.Filesystem
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New creates the configured screenshot directory if needed.
func New(cfg config.ScreenshotConfig, logger *zap.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("screenshot directory is not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory %s: %w", cfg.Dir, err)
	}
	return &Manager{
		fs:     osfs.New(cfg.Dir),
		dir:    cfg.Dir,
		logger: logger.Named("screenshot"),
		now:    time.Now,
	}, nil
}

// Dir returns the directory screenshots are written to.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns where a PNG capture for testName and label would be written now.
func (m *Manager) Path(testName, label string) string {
	return filepath.Join(m.dir, m.fileName(testName, label, ".png"))
}

func (m *Manager) fileName(testName, label, ext string) string {
	parts := []string{sanitize(testName)}
	if label != "" {
		parts = append(parts, sanitize(label))
	}
	parts = append(parts, m.now().Format(timestampLayout))
	return strings.Join(parts, "_") + ext
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if s == "" {
		return "unnamed"
	}
	return s
}

// Save writes an encoded image and returns its path. JPEG data gets a .jpg
// extension, anything else is stored as .png.
func (m *Manager) Save(testName, label string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("refusing to save empty screenshot")
	}
	ext := ".png"
	if http.DetectContentType(data) == "image/jpeg" {
		ext = ".jpg"
	}
	name := m.fileName(testName, label, ext)
	if err := util.WriteFile(m.fs, name, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot %s: %w", name, err)
	}

	path := filepath.Join(m.dir, name)
	m.logger.Info("Screenshot saved.", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// List returns the paths of all stored screenshots, oldest name first.
func (m *Manager) List() ([]string, error) {
	entries, err := m.images()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(m.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Prune removes screenshots last modified more than olderThan ago and
// reports how many were deleted.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	entries, err := m.images()
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.ModTime().Before(cutoff) {
			continue
		}
		if err := m.fs.Remove(e.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove screenshot %s: %w", e.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("Pruned old screenshots.", zap.Int("removed", removed), zap.Duration("older_than", olderThan))
	}
	return removed, nil
}

// Clean removes every stored screenshot.
func (m *Manager) Clean() error {
	entries, err := m.images()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.fs.Remove(e.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove screenshot %s: %w", e.Name(), err)
		}
	}
	m.logger.Debug("Screenshot directory cleaned.", zap.Int("removed", len(entries)))
	return nil
}

func (m *Manager) images() ([]os.FileInfo, error) {
	entries, err := m.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read screenshot directory: %w", err)
	}
	images := entries[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".png", ".jpg":
			images = append(images, e)
		}
	}
	return images, nil
}
