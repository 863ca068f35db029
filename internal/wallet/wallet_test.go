package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/repository"
	"github.com/iliyamo/concert-ticketing/internal/testutil"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(repository.NewWalletRepo(testutil.NewDB(t)))
}

func mustTopUp(t *testing.T, l *Ledger, user string, amount int64, key string) int64 {
	t.Helper()
	balance, err := l.TopUp(context.Background(), user, amount, key)
	require.NoError(t, err)
	return balance
}

func TestTopUpThenPay(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	assert.Equal(t, int64(1000), mustTopUp(t, l, "u-1", 1000, "charge-1"))

	balance, err := l.Pay(ctx, "u-1", 400, "pay-1", Metadata{"seat": "2025-06-01:12"})
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)

	got, err := l.BalanceOf(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), got)
}

func TestReplayAppliesOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")

	first, err := l.Pay(ctx, "u-1", 400, "K", nil)
	require.NoError(t, err)
	second, err := l.Pay(ctx, "u-1", 400, "K", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(600), first)
	assert.Equal(t, int64(600), second)

	// a replayed top-up does not credit again either
	assert.Equal(t, int64(600), mustTopUp(t, l, "u-1", 1000, "charge-1"))

	entries, err := l.History(ctx, "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentReplaySameKey(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, err := l.Pay(ctx, "u-1", 400, "K", nil)
			assert.NoError(t, err)
			assert.Equal(t, int64(600), balance)
		}()
	}
	wg.Wait()

	entries, err := l.History(ctx, "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")

	var ok, short int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Pay(ctx, "u-1", 300, fmt.Sprintf("pay-%d", i), nil)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case apperr.KindOf(err) == apperr.KindInsufficientBalance:
				atomic.AddInt32(&short, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok)
	assert.Equal(t, int32(5), short)
	balance, err := l.BalanceOf(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestInsufficientBalanceLeavesNoTrace(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 100, "charge-1")

	_, err := l.Pay(ctx, "u-1", 400, "pay-1", nil)
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	// the failed key is not burned: it succeeds after a top-up
	mustTopUp(t, l, "u-1", 500, "charge-2")
	balance, err := l.Pay(ctx, "u-1", 400, "pay-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestPayWithoutWallet(t *testing.T) {
	l := newLedger(t)

	_, err := l.Pay(context.Background(), "nobody", 1, "pay-1", nil)
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	balance, err := l.BalanceOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestRejectsInvalidInput(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero top-up", func() error { _, err := l.TopUp(ctx, "u", 0, "k"); return err }, apperr.ErrInvalidAmount},
		{"negative pay", func() error { _, err := l.Pay(ctx, "u", -5, "k", nil); return err }, apperr.ErrInvalidAmount},
		{"blank key", func() error { _, err := l.TopUp(ctx, "u", 10, " "); return err }, apperr.ErrInvalidIdempotencyKey},
		{"blank user", func() error { _, err := l.TopUp(ctx, "", 10, "k"); return err }, apperr.ErrInvalidUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.run(), tc.want)
		})
	}
}

func TestHistoryNewestFirstWithMetadata(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")
	_, err := l.Pay(ctx, "u-1", 250, "pay-1", Metadata{"concert_date": "2025-06-01", "seat_no": "12"})
	require.NoError(t, err)

	entries, err := l.History(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pay-1", entries[0].IdempotencyKey)
	assert.Equal(t, int64(750), entries[0].BalanceAfter)
	assert.Equal(t, "charge-1", entries[1].IdempotencyKey)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(entries[0].Metadata, &meta))
	assert.Equal(t, "12", meta["seat_no"])
}

func TestKeyReusedForDifferentMovement(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 100000, "K")

	_, err := l.Pay(ctx, "u-1", 80000, "K", nil)
	assert.ErrorIs(t, err, apperr.ErrIdempotencyKeyReused)
	assert.Equal(t, apperr.KindIdempotencyConflict, apperr.KindOf(err))

	mustTopUp(t, l, "u-1", 1000, "charge-2")
	_, err = l.TopUp(ctx, "u-1", 2000, "charge-2")
	assert.ErrorIs(t, err, apperr.ErrIdempotencyKeyReused)

	balance, err := l.BalanceOf(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(101000), balance)
}

func TestSettleRunsInsideDebitTransaction(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")

	_, err := l.Settle(ctx, Payment{
		UserID: "u-1",
		Amount: 400,
		Key:    "pay-1",
		Settle: func(context.Context) error { return errors.New("db connection reset") },
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	balance, err := l.BalanceOf(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	entries, err := l.History(ctx, "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// the rolled back key is free to succeed later
	calls := 0
	r, err := l.Settle(ctx, Payment{
		UserID: "u-1",
		Amount: 400,
		Key:    "pay-1",
		Settle: func(context.Context) error { calls++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, Receipt{Balance: 600}, r)

	r, err = l.Settle(ctx, Payment{
		UserID: "u-1",
		Amount: 400,
		Key:    "pay-1",
		Settle: func(context.Context) error { calls++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, Receipt{Balance: 600, Replayed: true}, r)
	assert.Equal(t, 1, calls)
}

func TestSettleDuplicateIsNotMistakenForReplay(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	mustTopUp(t, l, "u-1", 1000, "charge-1")

	_, err := l.Settle(ctx, Payment{
		UserID: "u-1",
		Amount: 400,
		Key:    "pay-1",
		Settle: func(context.Context) error { return repository.ErrDuplicate },
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	balance, err := l.BalanceOf(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}
