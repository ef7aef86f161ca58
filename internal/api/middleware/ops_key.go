package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

const HeaderOpsKey = "X-Ops-Key"

// OpsKey guards operator endpoints with a shared key compared against a bcrypt
// hash. An empty hash leaves the endpoint open.
func OpsKey(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if hash == "" {
			return next
		}
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderOpsKey)
			if key == "" {
				return domain.ErrUnauthenticated
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				return &domain.AppError{
					Status:  http.StatusForbidden,
					Code:    domain.CodeForbidden,
					Message: "Invalid operator key",
				}
			}
			return next(c)
		}
	}
}
