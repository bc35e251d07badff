// Package progress holds the latest status snapshot of every running job so
// pollers do not hit the row store on each tick.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tabimport/internal/model"
)

// Store keeps one StatusView per job. Implementations are safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, jobID string, v model.StatusView) error
	// Get reports ok=false on a miss; callers fall back to the row store.
	Get(ctx context.Context, jobID string) (v model.StatusView, ok bool, err error)
}

// Config selects the backend.
type Config struct {
	Kind      string // "memory" (default) or "redis"
	RedisAddr string
	TTL       time.Duration
}

// DefaultTTL bounds how long a finished job's snapshot lingers in redis.
const DefaultTTL = 24 * time.Hour

// New opens the configured store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("progress: redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(rc, cfg.TTL), nil
	}
	return nil, fmt.Errorf("unsupported progress.kind=%q", cfg.Kind)
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	views map[string]model.StatusView
}

func NewMemory() *Memory {
	return &Memory{views: make(map[string]model.StatusView)}
}

func (m *Memory) Put(_ context.Context, jobID string, v model.StatusView) error {
	if v.ErrorMessage != nil {
		msg := *v.ErrorMessage
		v.ErrorMessage = &msg
	}
	m.mu.Lock()
	m.views[jobID] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (model.StatusView, bool, error) {
	m.mu.RLock()
	v, ok := m.views[jobID]
	m.mu.RUnlock()
	return v, ok, nil
}
