package session

import (
	"context"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/google/uuid"
)

// Manager hands out one Guard per browser session id. Guards are restored from
// storage the first time they are requested.
type Manager struct {
	api     AuthAPI
	storage Storage
	opts    []Option

	mu     sync.Mutex
	guards map[string]*Guard
}

func NewManager(api AuthAPI, storage Storage, publisher events.Publisher, opts ...Option) *Manager {
	if publisher != nil {
		opts = append([]Option{WithPublisher(publisher)}, opts...)
	}
	return &Manager{
		api:     api,
		storage: storage,
		opts:    opts,
		guards:  make(map[string]*Guard),
	}
}

func NewSessionID() string { return uuid.NewString() }

// Get returns the guard for id, creating and restoring it if needed. An empty id
// gets a fresh session id.
func (m *Manager) Get(ctx context.Context, id string) (*Guard, error) {
	if id == "" {
		id = NewSessionID()
	}

	m.mu.Lock()
	g, ok := m.guards[id]
	if !ok {
		g = NewGuard(id, m.api, m.storage, m.opts...)
		m.guards[id] = g
	}
	m.mu.Unlock()

	if err := g.Restore(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Forget drops the in-memory guard. Persisted tokens are left alone.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.guards, id)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.guards)
}

// Sweep forgets guards idle for longer than maxIdle that have no refresh in flight.
func (m *Manager) Sweep(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, g := range m.guards {
		if g.State() == Refreshing {
			continue
		}
		if now.Sub(g.idleSince()) > maxIdle {
			delete(m.guards, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now, maxIdle); n > 0 {
				logger.Debug("Swept idle sessions", "count", n)
			}
		}
	}
}
