// Package seathold keeps the temporary, exclusive claim a buyer has on a seat
// between choosing it and paying for it. Holds live in Redis and expire on
// their own; there is no sweeper.
package seathold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

const keyPrefix = "seat:hold:"

// Key returns the Redis key of the hold on seat.
func Key(seat model.SeatID) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, seat.Date(), seat.Number())
}

// Manager reads and writes seat holds.
type Manager struct {
	rdb redis.UniversalClient
}

func NewManager(rdb redis.UniversalClient) *Manager {
	return &Manager{rdb: rdb}
}

// TryHold claims seat for userID for ttl. It is a single SET NX EX, so of any
// number of concurrent callers on a free seat exactly one gets true.
func (m *Manager) TryHold(ctx context.Context, seat model.SeatID, userID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("hold ttl must be positive, got %s", ttl)
	}
	ok, err := m.rdb.SetNX(ctx, Key(seat), userID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("hold seat %s: %w", seat, err)
	}
	return ok, nil
}

// IsHeldBy reports whether an unexpired hold on seat belongs to userID.
func (m *Manager) IsHeldBy(ctx context.Context, seat model.SeatID, userID string) (bool, error) {
	holder, err := m.rdb.Get(ctx, Key(seat)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read hold %s: %w", seat, err)
	}
	return holder == userID, nil
}

// HolderOf returns the current holder and the remaining hold time. An empty
// holder means the seat is not held.
func (m *Manager) HolderOf(ctx context.Context, seat model.SeatID) (string, time.Duration, error) {
	key := Key(seat)
	pipe := m.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, fmt.Errorf("read hold %s: %w", seat, err)
	}
	holder, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("read hold %s: %w", seat, err)
	}
	return holder, max(ttl.Val(), 0), nil
}

// Release drops any hold on seat. Releasing a free seat is a no-op.
func (m *Manager) Release(ctx context.Context, seat model.SeatID) error {
	if err := m.rdb.Del(ctx, Key(seat)).Err(); err != nil {
		return fmt.Errorf("release hold %s: %w", seat, err)
	}
	return nil
}
