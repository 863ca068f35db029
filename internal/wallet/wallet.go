// Package wallet moves money in and out of user wallets. Every movement is
// keyed by a caller supplied idempotency key: a key applies at most once per
// user, and replaying it returns the current balance without a second effect.
// A key already used for a different kind or amount of movement is refused.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

const (
	operationTopUp = "wallet.TopUp"
	operationPay   = "wallet.Pay"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Metadata is free-form context stored with a ledger entry.
type Metadata map[string]string

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger that receives one line per money movement.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger applies top-ups and payments.
type Ledger struct {
	repo   *repository.WalletRepo
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(repo *repository.WalletRepo, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BalanceOf returns the user's balance; a user without a wallet has 0.
func (l *Ledger) BalanceOf(ctx context.Context, userID string) (int64, error) {
	w, err := l.repo.FindWallet(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// TopUp credits amount, creating the wallet on first use.
func (l *Ledger) TopUp(ctx context.Context, userID string, amount int64, key string) (int64, error) {
	r, err := l.apply(ctx, operationTopUp, movement{
		userID: userID,
		amount: amount,
		key:    key,
		kind:   model.LedgerCharge,
	})
	return r.Balance, err
}

// Pay debits amount. It fails with ErrInsufficientBalance, leaving the
// balance untouched, when the wallet holds less than amount.
func (l *Ledger) Pay(ctx context.Context, userID string, amount int64, key string, metadata Metadata) (int64, error) {
	r, err := l.Settle(ctx, Payment{UserID: userID, Amount: amount, Key: key, Metadata: metadata})
	return r.Balance, err
}

// Payment is a debit request. Settle, when set, runs inside the debit's
// transaction after the ledger entry is written; an error from it rolls the
// debit back. It does not run when the key was already applied.
type Payment struct {
	UserID   string
	Amount   int64
	Key      string
	Metadata Metadata
	Settle   func(ctx context.Context) error
}

// Receipt is the outcome of a debit.
type Receipt struct {
	Balance  int64
	Replayed bool
}

// Settle debits p.Amount and runs p.Settle in the same transaction. A key
// already applied to a different kind or amount of movement fails with
// ErrIdempotencyKeyReused.
func (l *Ledger) Settle(ctx context.Context, p Payment) (Receipt, error) {
	return l.apply(ctx, operationPay, movement{
		userID:   p.UserID,
		amount:   p.Amount,
		key:      p.Key,
		kind:     model.LedgerPay,
		metadata: p.Metadata,
		settle:   p.Settle,
	})
}

// History returns up to limit entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Wrap("wallet.History", apperr.ErrInvalidUser)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return l.repo.ListEntries(ctx, userID, min(limit, maxHistoryLimit))
}

type movement struct {
	userID   string
	amount   int64
	key      string
	kind     model.LedgerKind
	metadata Metadata
	settle   func(ctx context.Context) error
}

// matches reports whether entry was written by the same logical movement.
func (mv movement) matches(entry *model.WalletLedgerEntry) bool {
	return entry.Kind == mv.kind && entry.Amount == mv.amount
}

// settleError marks a failure of the caller's settle step so it is not
// mistaken for a lost ledger insert race.
type settleError struct{ err error }

func (e settleError) Error() string { return e.err.Error() }
func (e settleError) Unwrap() error { return e.err }

func (l *Ledger) apply(ctx context.Context, op string, mv movement) (Receipt, error) {
	r, err := l.move(ctx, op, mv)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("user_id", mv.userID),
		zap.Int64("amount", mv.amount),
		zap.String("idempotency_key", mv.key),
	}
	switch {
	case err != nil && apperr.KindOf(err) == apperr.KindInternal:
		l.logger.Error("wallet operation failed", append(fields, zap.Error(err))...)
	case err != nil:
		l.logger.Info("wallet operation rejected", append(fields, zap.Error(err))...)
	default:
		l.logger.Info("wallet operation applied", append(fields, zap.Int64("balance", r.Balance), zap.Bool("replayed", r.Replayed))...)
	}
	return r, err
}

// replay answers a key that is already in the ledger.
func (l *Ledger) replay(ctx context.Context, op string, mv movement, entry *model.WalletLedgerEntry) (Receipt, error) {
	if !mv.matches(entry) {
		return Receipt{}, apperr.Wrap(op, apperr.ErrIdempotencyKeyReused)
	}
	balance, err := l.BalanceOf(ctx, mv.userID)
	return Receipt{Balance: balance, Replayed: true}, apperr.Wrap(op, err)
}

func (l *Ledger) move(ctx context.Context, op string, mv movement) (Receipt, error) {
	if strings.TrimSpace(mv.userID) == "" {
		return Receipt{}, apperr.Wrap(op, apperr.ErrInvalidUser)
	}
	if mv.amount <= 0 {
		return Receipt{}, apperr.Wrap(op, apperr.ErrInvalidAmount)
	}
	if strings.TrimSpace(mv.key) == "" {
		return Receipt{}, apperr.Wrap(op, apperr.ErrInvalidIdempotencyKey)
	}
	meta, err := encodeMetadata(mv.metadata)
	if err != nil {
		return Receipt{}, apperr.Wrap(op, err)
	}

	entry, err := l.repo.FindEntry(ctx, mv.userID, mv.key)
	if err == nil {
		return l.replay(ctx, op, mv, entry)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return Receipt{}, apperr.Wrap(op, err)
	}

	var r Receipt
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx *repository.WalletRepo) error {
		if mv.kind == model.LedgerCharge {
			if err := tx.EnsureWallet(ctx, mv.userID); err != nil {
				return err
			}
		}
		w, err := tx.LockWallet(ctx, mv.userID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrInsufficientBalance
		}
		if err != nil {
			return err
		}

		// a concurrent request with the same key may have committed between
		// the pre-check and the row lock
		prior, err := tx.FindEntry(ctx, mv.userID, mv.key)
		if err == nil {
			if !mv.matches(prior) {
				return apperr.ErrIdempotencyKeyReused
			}
			r = Receipt{Balance: w.Balance, Replayed: true}
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		next := w.Balance + mv.amount
		if mv.kind == model.LedgerPay {
			if w.Balance < mv.amount {
				return apperr.ErrInsufficientBalance
			}
			next = w.Balance - mv.amount
		}
		if err := tx.UpdateBalance(ctx, w, next); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &model.WalletLedgerEntry{
			UserID:         mv.userID,
			Amount:         mv.amount,
			Kind:           mv.kind,
			IdempotencyKey: mv.key,
			BalanceAfter:   next,
			Metadata:       meta,
			CreatedAt:      l.now(),
		}); err != nil {
			return err
		}
		if mv.settle != nil {
			if err := mv.settle(ctx); err != nil {
				return settleError{err: err}
			}
		}
		r = Receipt{Balance: next}
		return nil
	})
	var se settleError
	if errors.As(err, &se) {
		return Receipt{}, apperr.Wrap(op, se.err)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		// lost the insert race to the same key; the winner's effect stands
		entry, ferr := l.repo.FindEntry(ctx, mv.userID, mv.key)
		if ferr != nil {
			return Receipt{}, apperr.Wrap(op, ferr)
		}
		return l.replay(ctx, op, mv, entry)
	}
	if err != nil {
		return Receipt{}, apperr.Wrap(op, err)
	}
	return r, nil
}

func encodeMetadata(m Metadata) (datatypes.JSON, error) {
	if len(m) == 0 {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}
