package dqm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
)

// Manager is the process-wide directory of Leads, one per configured
// database. It is mutated only on add/remove; reads copy the Lead
// pointer out under the lock, per spec.md §5's lock-hierarchy note that
// no lock may be held across an engine driver call.
type Manager struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	log   *zap.Logger
}

// NewManager returns an empty directory.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{leads: make(map[string]*Lead), log: log}
}

// Launch brings up a database's Lead and registers it in the directory.
func (m *Manager) Launch(ctx context.Context, cfg LaunchConfig, eng engine.Engine, registry *pending.Registry, cache *qtc.Cache, load qtc.Loader) (*Lead, error) {
	m.mu.RLock()
	_, exists := m.leads[cfg.DatabaseName]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("dqm: database %q already launched", cfg.DatabaseName)
	}

	l, err := Launch(ctx, cfg, eng, registry, cache, load, m.log.With(zap.String("database", cfg.DatabaseName)))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.leads[cfg.DatabaseName] = l
	m.mu.Unlock()
	return l, nil
}

// Lookup returns the Lead for databaseName, or ErrDatabaseNotFound.
func (m *Manager) Lookup(databaseName string) (*Lead, error) {
	m.mu.RLock()
	l, ok := m.leads[databaseName]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	return l, nil
}

// Shutdown shuts down and removes one database's Lead from the
// directory.
func (m *Manager) Shutdown(ctx context.Context, databaseName string) error {
	m.mu.Lock()
	l, ok := m.leads[databaseName]
	if ok {
		delete(m.leads, databaseName)
	}
	m.mu.Unlock()
	if !ok {
		return ErrDatabaseNotFound
	}
	l.Shutdown(ctx)
	return nil
}

// ShutdownAll shuts down every Lead the directory currently holds,
// concurrently, used at process exit.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	leads := make([]*Lead, 0, len(m.leads))
	for name, l := range m.leads {
		leads = append(leads, l)
		delete(m.leads, name)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, l := range leads {
		l := l
		g.Go(func() error {
			l.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Names returns the databases currently registered, for diagnostics and
// the admin reload endpoint.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.leads))
	for name := range m.leads {
		out = append(out, name)
	}
	return out
}
