// Package lock provides the keyed locks that serialize transitions per
// request and reservations per budget key.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/spend-approval/internal/application/port"
)

// KeyedLocker is an in-process lock table. It serializes writers inside one
// process only; use RedisLocker when several instances share a store.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates a locker. wait bounds how long WithLock queues for
// a key; zero waits until ctx is done.
func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	return &KeyedLocker{
		entries: make(map[string]*entry),
		wait:    wait,
	}
}

// WithLock runs fn while holding key
func (l *KeyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.ref(key)
	defer l.unref(key)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-waitCtx.Done():
		return fmt.Errorf("%w: %s: %v", port.ErrLockNotAcquired, key, waitCtx.Err())
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (l *KeyedLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently referenced
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
