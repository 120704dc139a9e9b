// Package lock provides keyed in-process locks.
// Ticket purchases lock per user id so a double submit is serialized;
// the draw scheduler try-locks a job key so overlapping ticks are skipped.
package lock

import (
	"context"
	"sync"
	"time"
)

// entry wraps a mutex with the number of holders and waiters,
// so idle keys can be dropped from the map.
type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key.
type Keyed[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// NewKeyed creates an empty keyed lock.
func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{entries: make(map[K]*entry)}
}

// acquire returns the entry for key with its reference taken.
func (k *Keyed[K]) acquire(key K) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

// release drops a reference and forgets the key once nobody uses it.
func (k *Keyed[K]) release(key K, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock blocks until the key is free.
func (k *Keyed[K]) Lock(key K) {
	e := k.acquire(key)
	e.mu.Lock()
}

// Unlock releases the key. Only the holder may call it.
func (k *Keyed[K]) Unlock(key K) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Unlock()
	k.release(key, e)
}

// TryLock acquires the key only if it is free right now.
func (k *Keyed[K]) TryLock(key K) bool {
	e := k.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	k.release(key, e)
	return false
}

// LockWithTimeout waits at most timeout (or until ctx is done) for the key.
func (k *Keyed[K]) LockWithTimeout(ctx context.Context, key K, timeout time.Duration) bool {
	e := k.acquire(key)

	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-timeoutCtx.Done():
		// The waiter still gets the mutex eventually; hand it straight back.
		go func() {
			<-done
			e.mu.Unlock()
			k.release(key, e)
		}()
		return false
	}
}

// WithLock runs fn while holding key.
func (k *Keyed[K]) WithLock(key K, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// WithLockContext runs fn while holding key, giving up after timeout.
func (k *Keyed[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if !k.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer k.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// IsLocked reports whether key is held right now. The answer may be stale immediately.
func (k *Keyed[K]) IsLocked(key K) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return false
	}
	if e.mu.TryLock() {
		e.mu.Unlock()
		return false
	}
	return true
}

// Len returns the number of keys currently tracked.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// UserLock serializes balance-changing operations per user id.
type UserLock = Keyed[int64]

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return NewKeyed[int64]()
}
