package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/middleware"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/reservation"
)

// ReservationService is what the seat endpoints need from the orchestrator.
type ReservationService interface {
	Hold(ctx context.Context, cmd reservation.HoldCommand) (reservation.HoldResult, error)
	Release(ctx context.Context, token, userID string, seat model.SeatID) error
	Confirm(ctx context.Context, cmd reservation.ConfirmCommand) (reservation.ConfirmResult, error)
	SeatStatus(ctx context.Context, seat model.SeatID) (reservation.SeatView, error)
	Availability(ctx context.Context, date string) (reservation.Availability, error)
}

// ReservationHandler serves /v1/concerts/:date and its seats.
type ReservationHandler struct {
	Reservations ReservationService
}

func NewReservationHandler(r ReservationService) *ReservationHandler {
	if r == nil {
		panic("nil reservation service passed to NewReservationHandler")
	}
	return &ReservationHandler{Reservations: r}
}

// Hold handles POST .../hold. Requires an active queue token.
func (h *ReservationHandler) Hold(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	seat, err := seatParam(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Reservations.Hold(c.Request().Context(), reservation.HoldCommand{
		Token:  middleware.QueueToken(c),
		UserID: uid,
		Seat:   seat,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"concert_date":    seat.Date(),
		"seat_no":         seat.Number(),
		"price":           res.Price,
		"hold_expires_at": res.HoldExpiresAt,
	})
}

// Release handles DELETE .../hold.
func (h *ReservationHandler) Release(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	seat, err := seatParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Reservations.Release(c.Request().Context(), middleware.QueueToken(c), uid, seat); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Confirm handles POST .../confirm. A replay of a completed confirm answers
// 200 with the original result instead of 201.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	seat, err := seatParam(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Reservations.Confirm(c.Request().Context(), reservation.ConfirmCommand{
		Token:          middleware.QueueToken(c),
		UserID:         uid,
		Seat:           seat,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, echo.Map{
		"reservation_id": res.ReservationID,
		"balance":        res.Balance,
		"paid_at":        res.PaidAt,
	})
}

type seatResponse struct {
	ConcertDate          string `json:"concert_date"`
	SeatNo               int    `json:"seat_no"`
	State                string `json:"state"`
	HoldRemainingSeconds int64  `json:"hold_remaining_seconds,omitempty"`
}

// Seat handles GET /v1/concerts/:date/seats/:seatNo.
func (h *ReservationHandler) Seat(c echo.Context) error {
	seat, err := seatParam(c)
	if err != nil {
		return respondError(c, err)
	}
	view, err := h.Reservations.SeatStatus(c.Request().Context(), seat)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, seatResponse{
		ConcertDate:          seat.Date(),
		SeatNo:               seat.Number(),
		State:                string(view.State),
		HoldRemainingSeconds: int64(view.HoldRemaining / time.Second),
	})
}

// Concert handles GET /v1/concerts/:date.
func (h *ReservationHandler) Concert(c echo.Context) error {
	a, err := h.Reservations.Availability(c.Request().Context(), c.Param("date"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"concert_date":    a.Date,
		"schedule_id":     a.ScheduleID,
		"total_seats":     a.TotalSeats,
		"sold_seats":      a.Sold,
		"remaining_seats": a.Remaining,
	})
}
