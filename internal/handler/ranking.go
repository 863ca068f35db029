package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/ranking"
)

// RankingService reads the sales leaderboards.
type RankingService interface {
	TopByVelocity(ctx context.Context, limit int) ([]ranking.Entry, error)
	TopBySoldOut(ctx context.Context, limit int) ([]ranking.Entry, error)
}

// RankingHandler serves /v1/rankings.
type RankingHandler struct {
	Rankings RankingService
}

func NewRankingHandler(r RankingService) *RankingHandler {
	if r == nil {
		panic("nil ranking service passed to NewRankingHandler")
	}
	return &RankingHandler{Rankings: r}
}

// Velocity handles GET /v1/rankings/velocity.
func (h *RankingHandler) Velocity(c echo.Context) error {
	rows, err := h.Rankings.TopByVelocity(c.Request().Context(), limitParam(c, 10))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"rankings": rows})
}

// SoldOut handles GET /v1/rankings/soldout.
func (h *RankingHandler) SoldOut(c echo.Context) error {
	rows, err := h.Rankings.TopBySoldOut(c.Request().Context(), limitParam(c, 10))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"rankings": rows})
}
