// Package handler exposes the ticketing operations over HTTP. Handlers
// translate requests into service calls and service errors into
// {"error", "message"} bodies; they hold no business rules.
package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

func respondError(c echo.Context, err error) error {
	status, body := apperr.Response(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.KindInvalidRequest.String(), "message": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "authentication required"})
}

// seatParam reads :date and :seatNo.
func seatParam(c echo.Context) (model.SeatID, error) {
	return model.ParseSeatID(c.Param("date"), c.Param("seatNo"))
}

// limitParam reads ?limit=, falling back to def when absent or malformed.
func limitParam(c echo.Context, def int) int {
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		return n
	}
	return def
}
