package testdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xkilldash9x/e2e-harness/internal/config"
	"go.uber.org/zap"
)

// OpenStore builds the Store selected by cfg. The returned cleanup releases
// any connection pool and is never nil.
func OpenStore(ctx context.Context, cfg config.TestDataConfig, logger *zap.Logger) (Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendFile, "":
		store, err := NewFileStore(cfg.Dir, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, func() {}, fmt.Errorf("test data database URL is not configured (HARNESS_TESTDATA_DATABASE_URL)")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to connect to test data database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("failed to ping test data database: %w", err)
		}
		cleanup := func() {
			pool.Close()
			logger.Debug("Test data connection pool closed.")
		}
		return NewPostgresStore(pool, logger), cleanup, nil

	default:
		return nil, func() {}, fmt.Errorf("unsupported test data backend: %s", cfg.Backend)
	}
}

// Open builds the configured store and returns a Manager over it. When
// cfg.Watch is set, a Watcher invalidates cached documents as their files
// change until cleanup is called. cleanup stops the watcher, releases the
// store, and is never nil.
func Open(ctx context.Context, cfg config.TestDataConfig, logger *zap.Logger) (*Manager, func(), error) {
	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, func() {}, err
	}
	manager := NewManager(store, logger)
	if !cfg.Watch {
		return manager, closeStore, nil
	}

	fs, ok := store.(*FileStore)
	if !ok {
		closeStore()
		return nil, func() {}, fmt.Errorf("watch is only supported by the file backend")
	}
	watcher, err := NewWatcher(fs.Dir(), manager, logger)
	if err != nil {
		closeStore()
		return nil, func() {}, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := watcher.Run(watchCtx); err != nil {
			logger.Warn("Test data watcher stopped.", zap.Error(err))
		}
	}()

	cleanup := func() {
		cancel()
		<-done
		closeStore()
	}
	return manager, cleanup, nil
}
