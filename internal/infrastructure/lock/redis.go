package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrLockLost is the cancellation cause seen by fn when the mutex could
// not be extended and may have expired
var ErrLockLost = errors.New("lock lost before the work finished")

// Options tunes the RedLock mutexes
type Options struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
	Prefix      string
}

// DefaultOptions returns the settings used when config leaves them unset
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       3,
		RetryDelay:  500 * time.Millisecond,
		DriftFactor: 0.01,
		Prefix:      "spend-approval:",
	}
}

// RedisLocker serializes keys across processes with RedLock mutexes.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger Logger
}

// NewRedisLocker creates a locker over an existing go-redis client
func NewRedisLocker(client redis.UniversalClient, opts Options, logger Logger) *RedisLocker {
	defaults := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaults.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	if opts.DriftFactor <= 0 {
		opts.DriftFactor = defaults.DriftFactor
	}

	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock runs fn while holding the RedLock mutex for key
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	name := l.opts.Prefix + key
	mutex := l.rs.NewMutex(
		name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		}
		if !errors.Is(err, redsync.ErrFailed) {
			l.logger.Error("Failed to acquire lock", "key", name, "error", err)
		}
		return fmt.Errorf("%w: %s: %v", port.ErrLockNotAcquired, key, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Error("Failed to release lock", "key", name, "ok", ok, "error", err)
		}
	}()

	// fn runs under a context that is cancelled if the mutex is lost, so
	// an open transaction rolls back instead of committing unguarded.
	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(workCtx, mutex, name, done, cancel)
	}()

	err := fn(workCtx)
	close(done)
	wg.Wait()

	if cause := context.Cause(workCtx); err != nil && errors.Is(cause, ErrLockLost) {
		return fmt.Errorf("%w: %w", port.ErrLockNotAcquired, cause)
	}
	return err
}

// keepAlive extends the mutex every third of its expiry until done closes
func (l *RedisLocker) keepAlive(ctx context.Context, mutex *redsync.Mutex, name string, done <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(l.opts.Expiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
				l.logger.Error("Failed to extend lock", "key", name, "ok", ok, "error", err)
				lost(fmt.Errorf("%w: %s", ErrLockLost, name))
				return
			}
		}
	}
}
