package testdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager is a read-through cache of test data documents in front of a Store.
//
// A document is read from the store on first access and served from memory
// afterwards until it is invalidated with ClearFileCache, ClearCache or
// ReloadData. Failed reads are never cached. The cache has no size bound and
// no expiry; it lives as long as the test process.
//
// Returned documents are the cached values themselves. Callers must not
// modify them.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]any
	// epoch advances on ClearCache and gens[name] on ClearFileCache. A load
	// only populates the cache if neither moved while it was reading.
	epoch uint64
	gens  map[string]uint64
	// loads collapses concurrent first reads of the same document.
	loads singleflight.Group
}

// generation identifies the invalidation state a load started under.
type generation struct {
	epoch, gen uint64
}

// NewManager returns an empty Manager reading through store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.Named("testdata"),
		cache:  make(map[string]any),
		gens:   make(map[string]uint64),
	}
}

func (m *Manager) lookup(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.cache[name]
	return doc, ok
}

// GetAllData returns the whole named document, reading the store only on a cache miss.
//
// Concurrent misses share one store read. That read is detached from the
// cancellation of the caller that started it; a cancelled caller stops
// waiting and gets ctx.Err() while the others still receive the document.
func (m *Manager) GetAllData(ctx context.Context, name string) (any, error) {
	key := LogicalName(name)

	m.mu.RLock()
	doc, ok := m.cache[key]
	started := generation{epoch: m.epoch, gen: m.gens[key]}
	m.mu.RUnlock()
	if ok {
		m.logger.Debug("Test data cache hit.", zap.String("document", key))
		return doc, nil
	}

	// Loads started before an invalidation are never joined after it.
	flight := fmt.Sprintf("%s@%d.%d", key, started.epoch, started.gen)
	readCtx := context.WithoutCancel(ctx)
	ch := m.loads.DoChan(flight, func() (any, error) {
		// Another caller may have finished loading while we waited.
		if doc, ok := m.lookup(key); ok {
			return doc, nil
		}

		doc, err := m.store.Read(readCtx, key)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		current := generation{epoch: m.epoch, gen: m.gens[key]}
		if current == started {
			m.cache[key] = doc
		}
		m.mu.Unlock()

		if current != started {
			m.logger.Debug("Test data invalidated during load, not cached.", zap.String("document", key))
		} else {
			m.logger.Debug("Test data cached.", zap.String("document", key))
		}
		return doc, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.logger.Warn("Failed to load test data.", zap.String("document", key), zap.Error(res.Err))
			return nil, res.Err
		}
		return res.Val, nil
	}
}

// GetData returns the value of a top-level key of the named document.
func (m *Manager) GetData(ctx context.Context, name, key string) (any, error) {
	doc, err := m.GetAllData(ctx, name)
	if err != nil {
		return nil, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, keyNotFound(LogicalName(name), key)
	}
	value, ok := obj[key]
	if !ok {
		return nil, keyNotFound(LogicalName(name), key)
	}
	return value, nil
}

// GetNestedData returns the value at a dot-separated key path of the named document.
func (m *Manager) GetNestedData(ctx context.Context, name, keyPath string) (any, error) {
	doc, err := m.GetAllData(ctx, name)
	if err != nil {
		return nil, err
	}

	value, ok := Resolve(doc, keyPath)
	if !ok {
		return nil, keyPathNotFound(LogicalName(name), keyPath)
	}
	return value, nil
}

// HasKey reports whether the named document loads and has the top-level key.
// Every failure, including a missing or malformed document, yields false.
func (m *Manager) HasKey(ctx context.Context, name, key string) bool {
	_, err := m.GetData(ctx, name, key)
	return err == nil
}

// Bind decodes the value at keyPath into out, which must be a pointer.
// An empty keyPath binds the whole document.
func (m *Manager) Bind(ctx context.Context, name, keyPath string, out any) error {
	var (
		value any
		err   error
	)
	if keyPath == "" {
		value, err = m.GetAllData(ctx, name)
	} else {
		value, err = m.GetNestedData(ctx, name, keyPath)
	}
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to re-encode test data %q: %w", LogicalName(name), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to bind test data %q at %q into %T: %w", LogicalName(name), keyPath, out, err)
	}
	return nil
}

// ClearCache drops every cached document.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	n := len(m.cache)
	m.cache = make(map[string]any)
	m.epoch++
	m.mu.Unlock()

	m.logger.Debug("Test data cache cleared.", zap.Int("documents", n))
}

// ClearFileCache drops the named document from the cache.
func (m *Manager) ClearFileCache(name string) {
	key := LogicalName(name)

	m.mu.Lock()
	delete(m.cache, key)
	m.gens[key]++
	m.mu.Unlock()

	m.logger.Debug("Test data cache entry cleared.", zap.String("document", key))
}

// ReloadData drops the named document and reads it again from the store.
func (m *Manager) ReloadData(ctx context.Context, name string) (any, error) {
	m.ClearFileCache(name)
	return m.GetAllData(ctx, name)
}

// GetAvailableDataFiles lists every document in the store, cached or not.
func (m *Manager) GetAvailableDataFiles(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list test data: %w", err)
	}
	return names, nil
}

// CachedNames returns the names of the documents currently held in memory, sorted.
func (m *Manager) CachedNames() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.cache))
	for name := range m.cache {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}
