// Package delivery remembers which webhook deliveries were already handled
// so that QIWI retransmissions are acknowledged without dispatching twice.
//
// A delivery is claimed before dispatch and completed afterwards. A claim
// that is never completed (the process died mid-dispatch) expires after
// InProgressExpiry so the retransmission is processed.
package delivery

import (
	"context"
	"fmt"
	"time"
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	// InProgressExpiry bounds how long an uncompleted claim blocks retries.
	InProgressExpiry = 30 * time.Second

	// DefaultRetention is how long completed deliveries are remembered.
	DefaultRetention = 24 * time.Hour
)

// Store records delivery keys.
type Store interface {
	// Claim reserves key. It reports false when the key was already
	// completed or is being processed by another request.
	Claim(ctx context.Context, key string) (bool, error)

	// Complete marks key as handled for the store's retention period.
	Complete(ctx context.Context, key string) error

	Close() error
}

// Config selects and configures a Store.
type Config struct {
	Backend   string // memory, sqlite or redis
	Retention time.Duration
	Path      string // sqlite

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(retention), nil
	case "sqlite":
		return OpenSQLiteStore(ctx, cfg.Path, retention)
	case "redis":
		return OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, retention)
	default:
		return nil, fmt.Errorf("delivery: unknown backend %q", cfg.Backend)
	}
}
