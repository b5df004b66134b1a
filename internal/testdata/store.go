package testdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Extension is the file extension of test data documents.
const Extension = ".json"

// Store reads test data documents by logical name. Implementations do no caching.
type Store interface {
	// Read loads and parses the named document. It fails with KindNotFound
	// when the document does not exist and KindParseError when it is not valid JSON.
	Read(ctx context.Context, name string) (any, error)
	// List returns the logical names of every document in the store, sorted.
	List(ctx context.Context) ([]string, error)
}

// LogicalName strips the document extension, so "users" and "users.json" name the same document.
func LogicalName(name string) string {
	return strings.TrimSuffix(name, Extension)
}

func fileName(name string) string {
	return LogicalName(name) + Extension
}

// FileStore reads documents from a directory of JSON files.
type FileStore struct {
	fs     billy.Filesystem
	root   string
	logger *zap.Logger
}

// NewFileStore returns a FileStore rooted at dir, creating dir if it does not exist.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create test data directory %s: %w", dir, err)
	}
	return NewFileStoreFS(osfs.New(dir), dir, logger), nil
}

// NewFileStoreFS returns a FileStore over an existing billy filesystem.
// root is only used in messages.
func NewFileStoreFS(bfs billy.Filesystem, root string, logger *zap.Logger) *FileStore {
	return &FileStore{
		fs:     bfs,
		root:   root,
		logger: logger.Named("filestore"),
	}
}

// Dir returns the directory the store reads from.
func (s *FileStore) Dir() string { return s.root }

func (s *FileStore) Read(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logical := LogicalName(name)
	file := fileName(name)
	location := filepath.Join(s.root, file)

	f, err := s.fs.Open(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(logical, location)
		}
		return nil, fmt.Errorf("failed to open test data file %s: %w", location, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read test data file %s: %w", location, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, parseError(logical, location, err)
	}

	s.logger.Debug("Loaded test data file.", zap.String("file", location), zap.Int("bytes", len(data)))
	return doc, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list test data directory %s: %w", s.root, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Extension) {
			continue
		}
		names = append(names, LogicalName(info.Name()))
	}
	sort.Strings(names)
	return names, nil
}
