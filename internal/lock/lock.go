// Package lock provides single-owner leases on Redis keys. A lease is taken
// with SET NX PX and released or renewed only by the owner that took it.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
)

// acquireScript takes the key when it is free and renews it when the caller
// already owns it. Returns 1 on success.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseScript deletes the key only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out leases backed by one Redis client.
type Locker struct {
	rdb        redis.UniversalClient
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Option customises a Locker.
type Option func(*Locker)

// WithRetry sets how many extra attempts Acquire makes and the pause between them.
func WithRetry(retries int, delay time.Duration) Option {
	return func(l *Locker) {
		if retries >= 0 {
			l.retries = retries
		}
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithLogger attaches a logger for release failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLocker(rdb redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		rdb:        rdb,
		retries:    50,
		retryDelay: 20 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lease is one owner's claim on a key. The zero value is not usable.
type Lease struct {
	locker *Locker
	key    string
	owner  string
	ttl    time.Duration
}

// Lease returns an unacquired lease on key with a fresh owner id.
func (l *Locker) Lease(key string, ttl time.Duration) *Lease {
	return &Lease{locker: l, key: key, owner: uuid.NewString(), ttl: ttl}
}

func (ls *Lease) Key() string { return ls.key }

// TryAcquire makes one attempt. It also succeeds, renewing the TTL, when the
// lease already holds the key.
func (ls *Lease) TryAcquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, ls.locker.rdb, []string{ls.key}, ls.owner, ls.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Acquire retries TryAcquire until it succeeds, the retry budget runs out
// (ErrLockUnavailable) or ctx ends.
func (ls *Lease) Acquire(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		ok, err := ls.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= ls.locker.retries {
			return apperr.Wrap("lock "+ls.key, apperr.ErrLockUnavailable)
		}
		timer := time.NewTimer(ls.locker.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Release gives the key up if this lease still owns it.
func (ls *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, ls.locker.rdb, []string{ls.key}, ls.owner).Err()
}

// WithLock runs fn while holding key. The lease is released on return even
// when ctx has been cancelled.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease := l.Lease(key, ttl)
	if err := lease.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			l.logger.Warn("lease release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}
