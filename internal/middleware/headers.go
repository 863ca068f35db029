package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
)

const maxIdempotencyKeyLen = 128

// RequireQueueToken rejects requests without an X-Queue-Token header and
// stores the token for handlers. Whether the token is active for the caller
// is decided by the service that consumes it.
func RequireQueueToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := strings.TrimSpace(c.Request().Header.Get(HeaderQueueToken))
			if token == "" {
				return abort(c, apperr.ErrForbiddenQueueAccess)
			}
			c.Set(ContextQueueToken, token)
			return next(c)
		}
	}
}

// RequireIdempotencyKey rejects requests whose Idempotency-Key header is
// missing or longer than the ledger column.
func RequireIdempotencyKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if key == "" || len(key) > maxIdempotencyKeyLen {
				return abort(c, apperr.ErrInvalidIdempotencyKey)
			}
			c.Set(ContextIdempotencyKey, key)
			return next(c)
		}
	}
}

func abort(c echo.Context, err error) error {
	status, body := apperr.Response(err)
	return c.JSON(status, body)
}
