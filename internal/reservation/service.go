// Package reservation turns a held seat into a sale. It sequences the queue
// token check, the seat hold, the wallet payment and the permanent record so
// that a seat is sold at most once and a buyer is charged at most once per
// idempotency key, then publishes the sale for downstream consumers.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/queue"
	"github.com/iliyamo/concert-ticketing/internal/repository"
	"github.com/iliyamo/concert-ticketing/internal/wallet"
)

const seatLockPrefix = "lock:reservation:seat:"

// SeatLockKey returns the lease key serialising confirms of one seat.
func SeatLockKey(seat model.SeatID) string {
	return fmt.Sprintf("%s%s:%d", seatLockPrefix, seat.Date(), seat.Number())
}

// Config tunes holds and the confirm lease.
type Config struct {
	HoldTTL        time.Duration
	ConfirmLockTTL time.Duration
	PublishTimeout time.Duration
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Queue     QueueValidator
	Holds     SeatHolds
	Payments  Payments
	Confirmed ConfirmedStore
	Pricing   Pricing
	Schedules Schedules
	Publisher Publisher
	Locks     Locker
	Logger    *zap.Logger
}

// Service coordinates seat holds and confirmations.
type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = queue.NopPublisher{}
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 600 * time.Second
	}
	if cfg.ConfirmLockTTL <= 0 {
		cfg.ConfirmLockTTL = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Service{Deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// HoldCommand asks for a temporary claim on a seat.
type HoldCommand struct {
	Token  string
	UserID string
	Seat   model.SeatID
}

// HoldResult is a granted hold.
type HoldResult struct {
	Price         int64
	HoldExpiresAt time.Time
}

// Hold claims cmd.Seat for the caller for the configured hold time.
func (s *Service) Hold(ctx context.Context, cmd HoldCommand) (HoldResult, error) {
	const op = "reservation.Hold"
	if cmd.Seat.IsZero() {
		return HoldResult{}, apperr.Wrap(op, apperr.ErrInvalidSeat)
	}
	if err := s.Queue.Validate(ctx, cmd.Token, cmd.UserID); err != nil {
		return HoldResult{}, apperr.Wrap(op, err)
	}
	if sold, err := s.isSold(ctx, cmd.Seat); err != nil {
		return HoldResult{}, apperr.Wrap(op, err)
	} else if sold {
		return HoldResult{}, apperr.Wrap(op, apperr.ErrSeatAlreadyConfirmed)
	}
	price, err := s.Pricing.PriceOf(ctx, cmd.Seat)
	if err != nil {
		return HoldResult{}, apperr.Wrap(op, err)
	}
	ok, err := s.Holds.TryHold(ctx, cmd.Seat, cmd.UserID, s.cfg.HoldTTL)
	if err != nil {
		return HoldResult{}, apperr.Wrap(op, err)
	}
	if !ok {
		return HoldResult{}, apperr.Wrap(op, apperr.ErrSeatAlreadyHeld)
	}
	s.Logger.Info("seat held",
		zap.String("seat", cmd.Seat.String()),
		zap.String("user_id", cmd.UserID))
	return HoldResult{Price: price, HoldExpiresAt: s.now().Add(s.cfg.HoldTTL)}, nil
}

// Release gives up the caller's own hold on seat.
func (s *Service) Release(ctx context.Context, token, userID string, seat model.SeatID) error {
	const op = "reservation.Release"
	if err := s.Queue.Validate(ctx, token, userID); err != nil {
		return apperr.Wrap(op, err)
	}
	held, err := s.Holds.IsHeldBy(ctx, seat, userID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if !held {
		return apperr.Wrap(op, apperr.ErrHoldNotFoundOrExpired)
	}
	return apperr.Wrap(op, s.Holds.Release(ctx, seat))
}

// ConfirmCommand asks to pay for and keep a held seat.
type ConfirmCommand struct {
	Token          string
	UserID         string
	Seat           model.SeatID
	IdempotencyKey string
}

// ConfirmResult is a completed sale.
type ConfirmResult struct {
	ReservationID uint64
	Balance       int64
	PaidAt        time.Time
	Replayed      bool
}

// Confirm pays for the caller's hold and records the sale. Confirms of one
// seat are serialised by a lease, so of two racing buyers the second sees
// SeatAlreadyConfirmed or HoldNotFoundOrExpired. Repeating a completed
// confirm with the same idempotency key returns the original outcome.
//
// When the wallet is short the hold is kept until it expires: the buyer may
// top up and retry with the same key, and nobody else can take the seat
// meanwhile.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (ConfirmResult, error) {
	const op = "reservation.Confirm"
	if cmd.Seat.IsZero() {
		return ConfirmResult{}, apperr.Wrap(op, apperr.ErrInvalidSeat)
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return ConfirmResult{}, apperr.Wrap(op, apperr.ErrInvalidIdempotencyKey)
	}

	var (
		result ConfirmResult
		event  *queue.ReservationConfirmedEvent
	)
	err := s.Locks.WithLock(ctx, SeatLockKey(cmd.Seat), s.cfg.ConfirmLockTTL, func(ctx context.Context) error {
		var err error
		result, event, err = s.confirmLocked(ctx, cmd)
		return err
	})
	if err != nil {
		return ConfirmResult{}, apperr.Wrap(op, err)
	}
	if event != nil {
		s.publish(ctx, *event)
	}
	return result, nil
}

func (s *Service) confirmLocked(ctx context.Context, cmd ConfirmCommand) (ConfirmResult, *queue.ReservationConfirmedEvent, error) {
	existing, err := s.Confirmed.Find(ctx, cmd.Seat)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return ConfirmResult{}, nil, err
	}
	if existing != nil && existing.UserID == cmd.UserID && existing.IdempotencyKey == cmd.IdempotencyKey {
		balance, err := s.Payments.BalanceOf(ctx, cmd.UserID)
		if err != nil {
			return ConfirmResult{}, nil, err
		}
		return ConfirmResult{ReservationID: existing.ID, Balance: balance, PaidAt: existing.PaidAt, Replayed: true}, nil, nil
	}

	if err := s.Queue.Validate(ctx, cmd.Token, cmd.UserID); err != nil {
		return ConfirmResult{}, nil, err
	}
	held, err := s.Holds.IsHeldBy(ctx, cmd.Seat, cmd.UserID)
	if err != nil {
		return ConfirmResult{}, nil, err
	}
	if !held {
		return ConfirmResult{}, nil, apperr.ErrHoldNotFoundOrExpired
	}
	if existing != nil {
		return ConfirmResult{}, nil, apperr.ErrSeatAlreadyConfirmed
	}

	price, err := s.Pricing.PriceOf(ctx, cmd.Seat)
	if err != nil {
		return ConfirmResult{}, nil, err
	}
	paidAt := s.now()
	res := &model.ConfirmedReservation{
		ConcertDate:    cmd.Seat.Date(),
		SeatNo:         cmd.Seat.Number(),
		UserID:         cmd.UserID,
		Price:          price,
		IdempotencyKey: cmd.IdempotencyKey,
		PaidAt:         paidAt,
	}
	receipt, err := s.Payments.Settle(ctx, wallet.Payment{
		UserID: cmd.UserID,
		Amount: price,
		Key:    paymentKey(cmd.Seat, cmd.IdempotencyKey),
		Metadata: wallet.Metadata{
			"concert_date": cmd.Seat.Date(),
			"seat_no":      strconv.Itoa(cmd.Seat.Number()),
		},
		// the sale commits or rolls back with the debit
		Settle: func(ctx context.Context) error {
			err := s.Confirmed.Insert(ctx, res)
			if errors.Is(err, repository.ErrDuplicate) {
				s.Logger.Error("seat sold twice despite confirm lease",
					zap.String("seat", cmd.Seat.String()),
					zap.String("user_id", cmd.UserID),
					zap.String("idempotency_key", cmd.IdempotencyKey))
				return apperr.ErrConfirmInvariant
			}
			return err
		},
	})
	if err != nil {
		return ConfirmResult{}, nil, err
	}
	if receipt.Replayed {
		// the debit for this seat and key exists but its sale does not
		return ConfirmResult{}, nil, apperr.ErrIdempotencyKeyReused
	}
	balance := receipt.Balance

	// the sale is durable from here on; cleanup failures only delay it
	if err := s.Holds.Release(ctx, cmd.Seat); err != nil {
		s.Logger.Warn("hold release after confirm failed", zap.String("seat", cmd.Seat.String()), zap.Error(err))
	}
	if err := s.Queue.MarkUsed(ctx, cmd.Token); err != nil {
		s.Logger.Warn("mark token used failed", zap.String("user_id", cmd.UserID), zap.Error(err))
	}
	s.Logger.Info("seat confirmed",
		zap.Uint64("reservation_id", res.ID),
		zap.String("seat", cmd.Seat.String()),
		zap.String("user_id", cmd.UserID),
		zap.Int64("price", price))

	ev := &queue.ReservationConfirmedEvent{
		ReservationID: res.ID,
		UserID:        cmd.UserID,
		ScheduleID:    cmd.Seat.Date(),
		SeatNumber:    cmd.Seat.Number(),
		Price:         price,
		ConcertDate:   cmd.Seat.Date(),
		ConfirmedAt:   paidAt,
	}
	return ConfirmResult{ReservationID: res.ID, Balance: balance, PaidAt: paidAt}, ev, nil
}

// paymentKey scopes a confirm key to its seat so the same client key never
// matches a top-up or the purchase of another seat.
func paymentKey(seat model.SeatID, key string) string {
	return fmt.Sprintf("confirm:%s:%d:%s", seat.Date(), seat.Number(), key)
}

// publish runs after the seat lease is released. A failure is logged and
// never undoes the sale.
func (s *Service) publish(ctx context.Context, ev queue.ReservationConfirmedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()
	if s.Schedules != nil {
		if sched, err := s.Schedules.ScheduleOf(ctx, ev.ConcertDate); err == nil {
			ev.ScheduleID = sched.ID
		} else {
			s.Logger.Warn("schedule lookup failed, keying event by date", zap.Error(err))
		}
	}
	if err := s.Publisher.PublishReservationConfirmed(ctx, ev); err != nil {
		s.Logger.Error("reservation event publish failed",
			zap.Uint64("reservation_id", ev.ReservationID),
			zap.String("schedule_id", ev.ScheduleID),
			zap.Error(err))
	}
}

// SeatState is the public availability of a seat.
type SeatState string

const (
	SeatFree      SeatState = "FREE"
	SeatHeld      SeatState = "HELD"
	SeatConfirmed SeatState = "CONFIRMED"
)

// SeatView describes a seat for display.
type SeatView struct {
	Seat          model.SeatID
	State         SeatState
	HoldRemaining time.Duration
}

// SeatStatus reports whether seat is free, held or sold.
func (s *Service) SeatStatus(ctx context.Context, seat model.SeatID) (SeatView, error) {
	const op = "reservation.SeatStatus"
	if seat.IsZero() {
		return SeatView{}, apperr.Wrap(op, apperr.ErrInvalidSeat)
	}
	sold, err := s.isSold(ctx, seat)
	if err != nil {
		return SeatView{}, apperr.Wrap(op, err)
	}
	if sold {
		return SeatView{Seat: seat, State: SeatConfirmed}, nil
	}
	holder, remaining, err := s.Holds.HolderOf(ctx, seat)
	if err != nil {
		return SeatView{}, apperr.Wrap(op, err)
	}
	if holder != "" {
		return SeatView{Seat: seat, State: SeatHeld, HoldRemaining: remaining}, nil
	}
	return SeatView{Seat: seat, State: SeatFree}, nil
}

// Availability summarises how many seats of a concert date are left.
type Availability struct {
	Date       string
	ScheduleID string
	TotalSeats int
	Sold       int64
	Remaining  int64
}

// Availability counts sold seats of date against its schedule. Held seats
// still count as remaining.
func (s *Service) Availability(ctx context.Context, date string) (Availability, error) {
	const op = "reservation.Availability"
	date, err := model.ParseConcertDate(date)
	if err != nil {
		return Availability{}, apperr.Wrap(op, err)
	}
	sched, err := s.Schedules.ScheduleOf(ctx, date)
	if err != nil {
		return Availability{}, apperr.Wrap(op, err)
	}
	sold, err := s.Confirmed.CountByDate(ctx, date)
	if err != nil {
		return Availability{}, apperr.Wrap(op, err)
	}
	return Availability{
		Date:       date,
		ScheduleID: sched.ID,
		TotalSeats: sched.TotalSeats,
		Sold:       sold,
		Remaining:  max(int64(sched.TotalSeats)-sold, 0),
	}, nil
}

func (s *Service) isSold(ctx context.Context, seat model.SeatID) (bool, error) {
	_, err := s.Confirmed.Find(ctx, seat)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
