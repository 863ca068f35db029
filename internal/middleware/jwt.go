package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTAuth validates an HS256 bearer token and stores its subject as the
// caller's user id. Tokens without a subject are rejected.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			tok, err := parser.Parse(strings.TrimPrefix(auth, "Bearer "), keyFunc)
			if err != nil || !tok.Valid {
				return unauthorized(c, "invalid token")
			}
			sub, err := tok.Claims.GetSubject()
			if err != nil || strings.TrimSpace(sub) == "" {
				return unauthorized(c, "token has no subject")
			}
			c.Set(ContextUserID, sub)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": msg})
}
