// Package dbmanager is the thin registry from logical database name to
// an open engine handle: a directory of a handful of open files, which
// needs no more backing than a map and a mutex.
package dbmanager

import (
	"fmt"
	"sync"

	"github.com/nguyen-daniel/btreedb/internal/storage/engine"
	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

// Manager is a mutex-guarded registry of open engines, keyed by a
// caller-chosen logical name (distinct from the file path, so the same
// process can refer to "orders" without repeating its path everywhere).
type Manager struct {
	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{engines: make(map[string]*engine.Engine)}
}

// Open opens the database at path, registers it under name, and returns
// the handle. It fails if name is already registered — callers must Close
// the existing handle first (or use Get to reuse it).
func (m *Manager) Open(name, path string, cfg engine.EngineConfig) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[name]; exists {
		return nil, fmt.Errorf("%w: database %q already open", pager.ErrInvalidArgument, name)
	}

	e, err := engine.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	m.engines[name] = e
	return e, nil
}

// Get returns the engine registered under name, if any.
func (m *Manager) Get(name string) (*engine.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[name]
	return e, ok
}

// Close closes and unregisters the engine under name. A name that is not
// registered is not an error — Close is idempotent from the caller's
// perspective.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	e, ok := m.engines[name]
	if ok {
		delete(m.engines, name)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return e.Close()
}

// CloseAll closes every registered engine, collecting the first error
// encountered but still attempting to close the rest.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := m.Close(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Names returns the logical names currently registered, in no particular
// order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	return names
}
