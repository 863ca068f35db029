package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-ticketing/internal/admission"
	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/ranking"
	"github.com/iliyamo/concert-ticketing/internal/reservation"
)

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Issue(ctx context.Context, userID string) (admission.TokenInfo, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(admission.TokenInfo), args.Error(1)
}

func (m *mockQueue) Status(ctx context.Context, token string) (admission.TokenInfo, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(admission.TokenInfo), args.Error(1)
}

func (m *mockQueue) UserOf(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Expire(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

type mockReservations struct{ mock.Mock }

func (m *mockReservations) Hold(ctx context.Context, cmd reservation.HoldCommand) (reservation.HoldResult, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(reservation.HoldResult), args.Error(1)
}

func (m *mockReservations) Release(ctx context.Context, token, userID string, seat model.SeatID) error {
	return m.Called(ctx, token, userID, seat).Error(0)
}

func (m *mockReservations) Confirm(ctx context.Context, cmd reservation.ConfirmCommand) (reservation.ConfirmResult, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(reservation.ConfirmResult), args.Error(1)
}

func (m *mockReservations) SeatStatus(ctx context.Context, seat model.SeatID) (reservation.SeatView, error) {
	args := m.Called(ctx, seat)
	return args.Get(0).(reservation.SeatView), args.Error(1)
}

func (m *mockReservations) Availability(ctx context.Context, date string) (reservation.Availability, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(reservation.Availability), args.Error(1)
}

type mockWallet struct{ mock.Mock }

func (m *mockWallet) BalanceOf(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWallet) TopUp(ctx context.Context, userID string, amount int64, key string) (int64, error) {
	args := m.Called(ctx, userID, amount, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWallet) History(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]model.WalletLedgerEntry), args.Error(1)
}

type mockRankings struct{ mock.Mock }

func (m *mockRankings) TopByVelocity(ctx context.Context, limit int) ([]ranking.Entry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]ranking.Entry), args.Error(1)
}

func (m *mockRankings) TopBySoldOut(ctx context.Context, limit int) ([]ranking.Entry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]ranking.Entry), args.Error(1)
}

// request builds an echo context for h with the identity middleware state
// already applied.
type request struct {
	method, target, body string
	params               map[string]string
	user, token, key     string
}

func (r request) run(t *testing.T, h echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	target := r.target
	if target == "" {
		target = "/"
	}
	req := httptest.NewRequest(r.method, target, strings.NewReader(r.body))
	if r.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for k, v := range r.params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if r.user != "" {
		c.Set(middleware.ContextUserID, r.user)
	}
	if r.token != "" {
		c.Set(middleware.ContextQueueToken, r.token)
	}
	if r.key != "" {
		c.Set(middleware.ContextIdempotencyKey, r.key)
	}
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var seatParams = map[string]string{"date": "2025-06-01", "seatNo": "7"}

func mustSeat(t *testing.T) model.SeatID {
	t.Helper()
	seat, err := model.NewSeatID("2025-06-01", 7)
	require.NoError(t, err)
	return seat
}

func TestQueueIssue(t *testing.T) {
	q := new(mockQueue)
	q.On("Issue", mock.Anything, "alice").Return(admission.TokenInfo{
		Token: "tok", UserID: "alice", Status: model.TokenWaiting, Position: 3, EstimatedWait: 40 * time.Minute,
	}, nil)
	h := NewQueueHandler(q)

	rec := request{method: http.MethodPost, target: "/v1/queue/tokens", user: "alice"}.run(t, h.Issue)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "WAITING", body["status"])
	assert.Equal(t, float64(3), body["position"])
	assert.Equal(t, float64(2400), body["estimated_wait_seconds"])
	q.AssertExpectations(t)
}

func TestQueueIssueNeedsIdentity(t *testing.T) {
	q := new(mockQueue)
	rec := request{method: http.MethodPost, target: "/v1/queue/tokens"}.run(t, NewQueueHandler(q).Issue)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	q.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestQueueStatusUnknownToken(t *testing.T) {
	q := new(mockQueue)
	q.On("Status", mock.Anything, "nope").Return(admission.TokenInfo{}, apperr.Wrap("admission.Status", apperr.ErrTokenNotFound))

	rec := request{method: http.MethodGet, target: "/v1/queue/tokens/nope", params: map[string]string{"token": "nope"}}.
		run(t, NewQueueHandler(q).Status)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "token_not_found", decode(t, rec)["error"])
}

func TestQueueLeaveChecksOwner(t *testing.T) {
	q := new(mockQueue)
	q.On("UserOf", mock.Anything, "tok").Return("bob", nil)
	h := NewQueueHandler(q)

	rec := request{method: http.MethodDelete, target: "/v1/queue/tokens/tok", params: map[string]string{"token": "tok"}, user: "alice"}.
		run(t, h.Leave)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	q.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything)

	q.On("Expire", mock.Anything, "tok").Return(nil)
	rec = request{method: http.MethodDelete, target: "/v1/queue/tokens/tok", params: map[string]string{"token": "tok"}, user: "bob"}.
		run(t, h.Leave)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	q.AssertExpectations(t)
}

func TestHoldPassesTokenAndSeat(t *testing.T) {
	r := new(mockReservations)
	expires := time.Date(2025, 6, 1, 10, 10, 0, 0, time.UTC)
	r.On("Hold", mock.Anything, reservation.HoldCommand{Token: "tok", UserID: "alice", Seat: mustSeat(t)}).
		Return(reservation.HoldResult{Price: 80000, HoldExpiresAt: expires}, nil)

	rec := request{method: http.MethodPost, params: seatParams, user: "alice", token: "tok"}.run(t, NewReservationHandler(r).Hold)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(80000), body["price"])
	assert.Equal(t, "2025-06-01T10:10:00Z", body["hold_expires_at"])
	r.AssertExpectations(t)
}

func TestHoldRejectsBadSeat(t *testing.T) {
	r := new(mockReservations)
	rec := request{method: http.MethodPost, params: map[string]string{"date": "06/01/2025", "seatNo": "x"}, user: "alice", token: "tok"}.
		run(t, NewReservationHandler(r).Hold)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])
}

func TestHoldErrorMapping(t *testing.T) {
	cases := map[error]int{
		apperr.ErrForbiddenQueueAccess: http.StatusForbidden,
		apperr.ErrSeatAlreadyHeld:      http.StatusConflict,
		apperr.ErrSeatAlreadyConfirmed: http.StatusConflict,
		apperr.ErrLockUnavailable:      http.StatusServiceUnavailable,
		errors.New("redis down"):       http.StatusInternalServerError,
	}
	for err, want := range cases {
		t.Run(err.Error(), func(t *testing.T) {
			r := new(mockReservations)
			r.On("Hold", mock.Anything, mock.Anything).Return(reservation.HoldResult{}, apperr.Wrap("reservation.Hold", err))
			rec := request{method: http.MethodPost, params: seatParams, user: "alice", token: "tok"}.run(t, NewReservationHandler(r).Hold)
			assert.Equal(t, want, rec.Code)
		})
	}
}

func TestConfirmCreatedThenReplayed(t *testing.T) {
	r := new(mockReservations)
	paid := time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC)
	cmd := reservation.ConfirmCommand{Token: "tok", UserID: "alice", Seat: mustSeat(t), IdempotencyKey: "k1"}
	r.On("Confirm", mock.Anything, cmd).Return(reservation.ConfirmResult{ReservationID: 9, Balance: 20000, PaidAt: paid}, nil).Once()
	r.On("Confirm", mock.Anything, cmd).Return(reservation.ConfirmResult{ReservationID: 9, Balance: 20000, PaidAt: paid, Replayed: true}, nil).Once()
	h := NewReservationHandler(r)
	req := request{method: http.MethodPost, params: seatParams, user: "alice", token: "tok", key: "k1"}

	rec := req.run(t, h.Confirm)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(9), body["reservation_id"])
	assert.Equal(t, float64(20000), body["balance"])

	rec = req.run(t, h.Confirm)
	assert.Equal(t, http.StatusOK, rec.Code)
	r.AssertExpectations(t)
}

func TestConfirmInvariantHidesDetail(t *testing.T) {
	r := new(mockReservations)
	r.On("Confirm", mock.Anything, mock.Anything).Return(reservation.ConfirmResult{}, apperr.Wrap("reservation.Confirm", apperr.ErrConfirmInvariant))

	rec := request{method: http.MethodPost, params: seatParams, user: "alice", token: "tok", key: "k1"}.run(t, NewReservationHandler(r).Confirm)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "confirm_invariant_violated", body["error"])
	assert.Equal(t, "internal error", body["message"])
}

func TestReleaseAndSeatView(t *testing.T) {
	r := new(mockReservations)
	seat := mustSeat(t)
	r.On("Release", mock.Anything, "tok", "alice", seat).Return(nil)
	r.On("SeatStatus", mock.Anything, seat).Return(reservation.SeatView{Seat: seat, State: reservation.SeatHeld, HoldRemaining: 90 * time.Second}, nil)
	h := NewReservationHandler(r)

	rec := request{method: http.MethodDelete, params: seatParams, user: "alice", token: "tok"}.run(t, h.Release)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = request{method: http.MethodGet, params: seatParams}.run(t, h.Seat)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "HELD", body["state"])
	assert.Equal(t, float64(90), body["hold_remaining_seconds"])
	r.AssertExpectations(t)
}

func TestConcertAvailability(t *testing.T) {
	r := new(mockReservations)
	r.On("Availability", mock.Anything, "2025-06-01").Return(reservation.Availability{
		Date: "2025-06-01", ScheduleID: "3", TotalSeats: 50, Sold: 12, Remaining: 38,
	}, nil)
	r.On("Availability", mock.Anything, "tomorrow").Return(reservation.Availability{}, apperr.ErrInvalidSeat)
	h := NewReservationHandler(r)

	rec := request{method: http.MethodGet, params: map[string]string{"date": "2025-06-01"}}.run(t, h.Concert)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(38), body["remaining_seats"])
	assert.Equal(t, "3", body["schedule_id"])

	rec = request{method: http.MethodGet, params: map[string]string{"date": "tomorrow"}}.run(t, h.Concert)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletCharge(t *testing.T) {
	w := new(mockWallet)
	w.On("TopUp", mock.Anything, "alice", int64(5000), "top-1").Return(int64(5000), nil)
	h := NewWalletHandler(w)

	rec := request{method: http.MethodPost, body: `{"amount":5000}`, user: "alice", key: "top-1"}.run(t, h.Charge)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5000), decode(t, rec)["balance"])

	w.On("TopUp", mock.Anything, "alice", int64(-1), "top-2").Return(int64(0), apperr.Wrap("wallet.TopUp", apperr.ErrInvalidAmount))
	rec = request{method: http.MethodPost, body: `{"amount":-1}`, user: "alice", key: "top-2"}.run(t, h.Charge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decode(t, rec)["error"])

	rec = request{method: http.MethodPost, body: `{"amount":`, user: "alice", key: "top-3"}.run(t, h.Charge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	w.AssertExpectations(t)
}

func TestWalletBalanceAndHistory(t *testing.T) {
	w := new(mockWallet)
	w.On("BalanceOf", mock.Anything, "alice").Return(int64(120), nil)
	w.On("History", mock.Anything, "alice", 5).Return([]model.WalletLedgerEntry{
		{ID: 2, Kind: model.LedgerPay, Amount: 80, BalanceAfter: 120, IdempotencyKey: "c1", Metadata: []byte(`{"seat_no":"7"}`)},
		{ID: 1, Kind: model.LedgerCharge, Amount: 200, BalanceAfter: 200, IdempotencyKey: "t1"},
	}, nil)
	h := NewWalletHandler(w)

	rec := request{method: http.MethodGet, user: "alice"}.run(t, h.Balance)
	assert.Equal(t, float64(120), decode(t, rec)["balance"])

	rec = request{method: http.MethodGet, target: "/v1/wallet/history?limit=5", user: "alice"}.run(t, h.History)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "PAY", first["kind"])
	assert.Equal(t, map[string]any{"seat_no": "7"}, first["metadata"])
	w.AssertExpectations(t)
}

func TestRankings(t *testing.T) {
	r := new(mockRankings)
	r.On("TopByVelocity", mock.Anything, 10).Return([]ranking.Entry{{Rank: 1, ScheduleID: "1", Score: 4}}, nil)
	r.On("TopBySoldOut", mock.Anything, 3).Return([]ranking.Entry{}, nil)
	h := NewRankingHandler(r)

	rec := request{method: http.MethodGet, target: "/v1/rankings/velocity"}.run(t, h.Velocity)
	assert.Equal(t, http.StatusOK, rec.Code)
	rows := decode(t, rec)["rankings"].([]any)
	assert.Len(t, rows, 1)

	rec = request{method: http.MethodGet, target: "/v1/rankings/soldout?limit=3"}.run(t, h.SoldOut)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["rankings"])
	r.AssertExpectations(t)
}

func TestReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	rec := request{method: http.MethodGet, target: "/readyz"}.run(t, Ready(map[string]Check{"db": ok, "redis": ok}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = request{method: http.MethodGet, target: "/readyz"}.run(t, Ready(map[string]Check{"db": ok, "redis": down}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"redis": "dial tcp: refused"}, decode(t, rec)["failed"])
}
