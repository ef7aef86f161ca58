package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/api/metrics"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

const DefaultMaxBodyBytes int64 = 10 << 20

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)sql\s+(select|insert|update|delete|drop|create|alter)`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
}

// PayloadGuard rejects declared bodies above maxBytes before anything reads
// them, caps undeclared bodies at the same size, and logs URLs that look like
// injection attempts. The URL scan never blocks.
func PayloadGuard(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if req.ContentLength > maxBytes {
				metrics.PayloadRejectedTotal.Inc()
				return domain.ErrPayloadTooLarge
			}
			if req.Body != nil && req.Body != http.NoBody {
				req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			}

			if pattern, hit := suspicious(req.URL); hit {
				metrics.SuspiciousRequestsTotal.Inc()
				zerolog.Ctx(req.Context()).Warn().
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("ip", c.RealIP()).
					Str("pattern", pattern).
					Msg("suspicious request detected")
			}

			return next(c)
		}
	}
}

func suspicious(u *url.URL) (string, bool) {
	candidates := []string{u.String()}
	if q, err := url.QueryUnescape(u.RawQuery); err == nil && q != u.RawQuery {
		candidates = append(candidates, q)
	}
	if p, err := url.PathUnescape(u.EscapedPath()); err == nil {
		candidates = append(candidates, p)
	}

	for _, re := range suspiciousPatterns {
		for _, s := range candidates {
			if re.MatchString(strings.ToLower(s)) {
				return re.String(), true
			}
		}
	}
	return "", false
}
