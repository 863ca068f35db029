package reservation

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/catalog"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/queue"
	"github.com/iliyamo/concert-ticketing/internal/wallet"
)

// QueueValidator checks and finishes admission tokens.
type QueueValidator interface {
	Validate(ctx context.Context, token, userID string) error
	MarkUsed(ctx context.Context, token string) error
}

// SeatHolds is the temporary seat claim store.
type SeatHolds interface {
	TryHold(ctx context.Context, seat model.SeatID, userID string, ttl time.Duration) (bool, error)
	IsHeldBy(ctx context.Context, seat model.SeatID, userID string) (bool, error)
	HolderOf(ctx context.Context, seat model.SeatID) (string, time.Duration, error)
	Release(ctx context.Context, seat model.SeatID) error
}

// Payments debits wallets idempotently. Settle runs p.Settle inside the
// debit's transaction.
type Payments interface {
	Settle(ctx context.Context, p wallet.Payment) (wallet.Receipt, error)
	BalanceOf(ctx context.Context, userID string) (int64, error)
}

// ConfirmedStore holds sold seats.
type ConfirmedStore interface {
	Find(ctx context.Context, seat model.SeatID) (*model.ConfirmedReservation, error)
	Insert(ctx context.Context, res *model.ConfirmedReservation) error
	CountByDate(ctx context.Context, date string) (int64, error)
}

// Pricing prices a seat.
type Pricing interface {
	PriceOf(ctx context.Context, seat model.SeatID) (int64, error)
}

// Schedules resolves the schedule a concert date belongs to.
type Schedules interface {
	ScheduleOf(ctx context.Context, date string) (catalog.Schedule, error)
}

// Publisher delivers reservation events downstream.
type Publisher interface {
	PublishReservationConfirmed(ctx context.Context, ev queue.ReservationConfirmedEvent) error
}

// Locker runs fn while holding a cluster-wide lease on key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}
