package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Context keys set by the middleware in this package.
const (
	ContextUserID         = "user_id"
	ContextQueueToken     = "queue_token"
	ContextIdempotencyKey = "idempotency_key"
)

// Request headers read by the middleware in this package.
const (
	HeaderQueueToken     = "X-Queue-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// UserID returns the authenticated caller set by JWTAuth.
func UserID(c echo.Context) (string, bool) {
	s, ok := c.Get(ContextUserID).(string)
	return s, ok && strings.TrimSpace(s) != ""
}

// QueueToken returns the admission token set by RequireQueueToken.
func QueueToken(c echo.Context) string {
	s, _ := c.Get(ContextQueueToken).(string)
	return s
}

// IdempotencyKey returns the key set by RequireIdempotencyKey.
func IdempotencyKey(c echo.Context) string {
	s, _ := c.Get(ContextIdempotencyKey).(string)
	return s
}

// subject picks the rate limit identity: the user when known, else "anon".
func subject(c echo.Context) string {
	if uid, ok := UserID(c); ok {
		return uid
	}
	return "anon"
}
