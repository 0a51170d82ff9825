package lock

import (
	"context"
	"sync"
)

// Keyed is an in-process Locker with one slot per key. Entries are removed
// when their last holder or waiter leaves.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*Keyed)(nil)

// NewKeyed returns an empty keyed locker.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

func (k *Keyed) ref(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) unref(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *Keyed) release(key string, s *slot) Release {
	var once sync.Once
	return func() error {
		err := ErrNotHeld
		once.Do(func() {
			<-s.ch
			k.unref(key, s)
			err = nil
		})
		return err
	}
}

// Acquire blocks until key is free or ctx is done.
func (k *Keyed) Acquire(ctx context.Context, key string) (Release, error) {
	s := k.ref(key)
	select {
	case s.ch <- struct{}{}:
		return k.release(key, s), nil
	case <-ctx.Done():
		k.unref(key, s)
		return nil, ctx.Err()
	}
}

// TryAcquire takes key only if it is free.
func (k *Keyed) TryAcquire(_ context.Context, key string) (Release, bool, error) {
	s := k.ref(key)
	select {
	case s.ch <- struct{}{}:
		return k.release(key, s), true, nil
	default:
		k.unref(key, s)
		return nil, false, nil
	}
}

// Len reports how many keys are currently tracked.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
