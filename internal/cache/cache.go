package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically sweeps registered caches.
type Manager struct {
	caches []named
	logger *slog.Logger
}

type named struct {
	name    string
	cleaner Cleaner
}

// NewManager creates a new cache manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "cache_manager")}
}

// Register adds a cache to the sweep. Call before Run.
func (m *Manager) Register(name string, c Cleaner) {
	m.caches = append(m.caches, named{name: name, cleaner: c})
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs one cleanup pass over every cache.
func (m *Manager) Sweep() int {
	total := 0
	for _, c := range m.caches {
		n := c.cleaner.CleanExpired()
		if n > 0 {
			m.logger.Debug("Expired cache entries removed", "cache", c.name, "count", n)
		}
		total += n
	}
	return total
}
