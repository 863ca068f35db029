// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/handler"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
)

// Handlers bundles everything the API serves.
type Handlers struct {
	Queue        *handler.QueueHandler
	Reservations *handler.ReservationHandler
	Wallet       *handler.WalletHandler
	Rankings     *handler.RankingHandler
	Ready        echo.HandlerFunc
}

// Middleware holds the configured cross-cutting middleware. Nil entries are
// skipped.
type Middleware struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterRoutes mounts the health endpoints and the /v1 API.
func RegisterRoutes(e *echo.Echo, h Handlers, mw Middleware) {
	e.GET("/healthz", handler.Health)
	if h.Ready != nil {
		e.GET("/readyz", h.Ready)
	}

	auth := middleware.JWTAuth(mw.JWTSecret)
	queueToken := middleware.RequireQueueToken()
	idempotent := middleware.RequireIdempotencyKey()
	cached := optional(mw.Cache)

	v1 := e.Group("/v1")

	q := v1.Group("/queue/tokens")
	q.POST("", h.Queue.Issue, auth, optional(mw.RateLimit))
	q.GET("/:token", h.Queue.Status)
	q.DELETE("/:token", h.Queue.Leave, auth)

	v1.GET("/concerts/:date", h.Reservations.Concert, cached)
	seat := v1.Group("/concerts/:date/seats/:seatNo")
	seat.GET("", h.Reservations.Seat, cached)
	seat.POST("/hold", h.Reservations.Hold, auth, queueToken)
	seat.DELETE("/hold", h.Reservations.Release, auth, queueToken)
	seat.POST("/confirm", h.Reservations.Confirm, auth, queueToken, idempotent)

	w := v1.Group("/wallet", auth)
	w.GET("", h.Wallet.Balance)
	w.POST("/charge", h.Wallet.Charge, idempotent)
	w.GET("/history", h.Wallet.History)

	r := v1.Group("/rankings", cached)
	r.GET("/velocity", h.Rankings.Velocity)
	r.GET("/soldout", h.Rankings.SoldOut)
}

func optional(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if mw == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return mw
}
