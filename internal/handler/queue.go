package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/admission"
	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
)

// QueueService is the admission surface the queue endpoints need.
type QueueService interface {
	Issue(ctx context.Context, userID string) (admission.TokenInfo, error)
	Status(ctx context.Context, token string) (admission.TokenInfo, error)
	UserOf(ctx context.Context, token string) (string, error)
	Expire(ctx context.Context, token string) error
}

// QueueHandler serves /v1/queue/tokens.
type QueueHandler struct {
	Queue QueueService
}

func NewQueueHandler(q QueueService) *QueueHandler {
	if q == nil {
		panic("nil queue service passed to NewQueueHandler")
	}
	return &QueueHandler{Queue: q}
}

type tokenResponse struct {
	Token                string     `json:"token"`
	Status               string     `json:"status"`
	Position             int64      `json:"position"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	EstimatedWaitSeconds int64      `json:"estimated_wait_seconds"`
}

func toTokenResponse(info admission.TokenInfo) tokenResponse {
	return tokenResponse{
		Token:                info.Token,
		Status:               string(info.Status),
		Position:             info.Position,
		ExpiresAt:            info.ExpiresAt,
		EstimatedWaitSeconds: int64(info.EstimatedWait / time.Second),
	}
}

// Issue handles POST /v1/queue/tokens. A caller who already waits or is
// active gets the same token back.
func (h *QueueHandler) Issue(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	info, err := h.Queue.Issue(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toTokenResponse(info))
}

// Status handles GET /v1/queue/tokens/:token.
func (h *QueueHandler) Status(c echo.Context) error {
	info, err := h.Queue.Status(c.Request().Context(), c.Param("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(info))
}

// Leave handles DELETE /v1/queue/tokens/:token. Only the owner may give a
// token up.
func (h *QueueHandler) Leave(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	token := c.Param("token")
	owner, err := h.Queue.UserOf(ctx, token)
	if err != nil {
		return respondError(c, err)
	}
	if owner != uid {
		return respondError(c, apperr.ErrForbiddenQueueAccess)
	}
	if err := h.Queue.Expire(ctx, token); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
