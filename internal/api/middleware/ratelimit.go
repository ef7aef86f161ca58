package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/api/metrics"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

// BlockGuard rejects requests from a blocked client IP before any token is
// verified. Everything else passes through to RateLimit.
func BlockGuard(limiter ports.RateLimiter, clock ports.Clock) echo.MiddlewareFunc {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if d, blocked := limiter.CheckBlocked(ip); blocked {
				return rejectRequest(c, d, ip, clock)
			}
			return next(c)
		}
	}
}

// RateLimit consults limiter before the handler. Rejections become a 429
// AppError; accepted responses carry the remaining budget and reset time.
func RateLimit(limiter ports.RateLimiter, clock ports.Clock) echo.MiddlewareFunc {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			info := domain.RequestInfo{
				Method:   req.Method,
				Path:     req.URL.Path,
				ClientIP: c.RealIP(),
			}
			if u := CurrentUser(c); u != nil {
				info.UserID = u.ID()
			}

			d, err := limiter.Check(req.Context(), info)
			if err != nil {
				return err
			}
			if !d.Allowed {
				return rejectRequest(c, d, info.ClientIP, clock)
			}

			h := c.Response().Header()
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(max(d.Remaining, 0)))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
			return next(c)
		}
	}
}

func rejectRequest(c echo.Context, d domain.RateLimitDecision, ip string, clock ports.Clock) error {
	metrics.RateLimitRejectionsTotal.WithLabelValues(d.Rule).Inc()
	if d.IPBlocked && d.Rule != domain.RuleIPBlock {
		metrics.RateLimitIPBlocksTotal.Inc()
	}
	zerolog.Ctx(c.Request().Context()).Warn().
		Str("ip", ip).
		Str("rule", d.Rule).
		Bool("ip_blocked", d.IPBlocked).
		Msg("rate limit exceeded")

	msg := "Rate limit exceeded for " + d.Rule
	if d.Rule == domain.RuleIPBlock {
		msg = "Too many requests. Client temporarily blocked."
	}
	return domain.NewRateLimitError(msg, d.RetryAfter, d.Limit, clock.Now())
}
