// Package lock provides named mutual exclusion. Keys are independent: holding
// "sprite:1" never blocks "sprite:2".
package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned when releasing a lock that expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Release frees an acquired lock.
type Release func() error

// Locker hands out named locks.
type Locker interface {
	// Acquire blocks until key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
	// TryAcquire returns ok=false immediately when key is held elsewhere.
	TryAcquire(ctx context.Context, key string) (Release, bool, error)
}
