package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// RBAC admits authenticated users whose role claim is one of allowedRoles.
// It must run after Auth.
func RBAC(allowedRoles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return domain.ErrUnauthenticated
			}
			if _, ok := allowed[user.Role]; !ok {
				return &domain.AppError{
					Status:  domain.ErrForbidden.Status,
					Code:    domain.CodeForbidden,
					Message: "Insufficient role",
				}
			}
			return next(c)
		}
	}
}
