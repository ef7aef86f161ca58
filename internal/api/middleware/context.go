package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// Echo context keys shared by the middleware chain and handlers.
const (
	ContextKeyTraceID = "trace_id"
	ContextKeyUser    = "user"
	ContextKeyAuth    = "auth_result"
)

const (
	HeaderTraceID            = "X-Trace-ID"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// TraceID returns the correlation ID assigned by the error translator.
func TraceID(c echo.Context) string {
	id, _ := c.Get(ContextKeyTraceID).(string)
	return id
}

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c echo.Context) *domain.User {
	u, _ := c.Get(ContextKeyUser).(*domain.User)
	return u
}

// authResult caches one authentication attempt so later middleware can reuse it.
type authResult struct {
	user *domain.User
	err  error
}

func cachedAuth(c echo.Context) (*authResult, bool) {
	r, ok := c.Get(ContextKeyAuth).(*authResult)
	return r, ok
}
