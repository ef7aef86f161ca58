package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/ngxpulse/pulse-api/internal/api/middleware"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// ctxUser returns the user set by the Auth middleware. Routes behind Auth
// always have one; its absence means the route was mounted without Auth.
func ctxUser(c echo.Context) (*domain.User, error) {
	u := middleware.CurrentUser(c)
	if u == nil {
		return nil, domain.ErrUnauthenticated
	}
	return u, nil
}
