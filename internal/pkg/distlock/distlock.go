// Package distlock provides short-lived exclusive locks for work that must
// not run twice at once, such as rewriting the group catalog or sweeping
// old files when several bot replicas share a data volume.
package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by WithLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock held by another owner")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a lock using the best available backend.
// If redisClient is non-nil, uses Redis (cross-host locking).
// Otherwise falls back to an in-process lock keyed by name.
func NewLock(redisClient *redis.Client, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewLocalLock(key)
}

// WithLock runs fn while holding l. It does not wait: if the lock is
// taken it returns ErrNotAcquired without calling fn.
func WithLock(ctx context.Context, l DistLock, fn func() error) error {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer l.Release(context.WithoutCancel(ctx))
	return fn()
}

// =============================================================================
// In-process lock (fallback when Redis is not configured)
// =============================================================================

var localHeld sync.Map // key -> *LocalLock

// LocalLock implements DistLock for a single process. Two LocalLock values
// with the same key exclude each other.
type LocalLock struct {
	key string
}

// NewLocalLock creates an in-process lock for key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire claims the key if nobody in this process holds it.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, loaded := localHeld.LoadOrStore(l.key, l)
	return !loaded, nil
}

// Release frees the key only when this instance holds it.
func (l *LocalLock) Release(ctx context.Context) error {
	localHeld.CompareAndDelete(l.key, l)
	return nil
}
