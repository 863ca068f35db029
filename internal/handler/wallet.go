package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/middleware"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// WalletService is the ledger surface the wallet endpoints need.
type WalletService interface {
	BalanceOf(ctx context.Context, userID string) (int64, error)
	TopUp(ctx context.Context, userID string, amount int64, key string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error)
}

// WalletHandler serves /v1/wallet.
type WalletHandler struct {
	Wallets WalletService
}

func NewWalletHandler(w WalletService) *WalletHandler {
	if w == nil {
		panic("nil wallet service passed to NewWalletHandler")
	}
	return &WalletHandler{Wallets: w}
}

// Balance handles GET /v1/wallet.
func (h *WalletHandler) Balance(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	bal, err := h.Wallets.BalanceOf(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": uid, "balance": bal})
}

// Charge handles POST /v1/wallet/charge with body {"amount": n}. The
// Idempotency-Key header makes retries safe.
func (h *WalletHandler) Charge(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	bal, err := h.Wallets.TopUp(c.Request().Context(), uid, body.Amount, middleware.IdempotencyKey(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": uid, "balance": bal})
}

type ledgerEntryResponse struct {
	ID             uint64          `json:"id"`
	Kind           string          `json:"kind"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// History handles GET /v1/wallet/history?limit=, newest first.
func (h *WalletHandler) History(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	entries, err := h.Wallets.History(c.Request().Context(), uid, limitParam(c, 20))
	if err != nil {
		return respondError(c, err)
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:             e.ID,
			Kind:           string(e.Kind),
			Amount:         e.Amount,
			BalanceAfter:   e.BalanceAfter,
			IdempotencyKey: e.IdempotencyKey,
			Metadata:       json.RawMessage(e.Metadata),
			CreatedAt:      e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": out})
}
