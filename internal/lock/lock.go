// Package lock serialises scheduler poll cycles across processes.
package lock

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards one poll cycle. Acquire never blocks waiting for a holder.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// New picks a backend: Redis when a client is given, a PostgreSQL advisory
// lock when a database handle is given, otherwise a process-local no-op.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Locker {
	switch {
	case rdb != nil:
		return NewRedisLock(rdb, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return Noop{}
	}
}

// Noop always acquires. Used for single-instance deployments.
type Noop struct{}

func (Noop) Acquire(context.Context) (bool, error) { return true, nil }
func (Noop) Release(context.Context) error          { return nil }
