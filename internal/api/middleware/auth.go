package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/api/metrics"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

const (
	headerWebSocketProtocol = "Sec-WebSocket-Protocol"
	webSocketTokenPrefix    = "Authorization.Bearer."
)

// Auth requires an authenticated user. A result cached by Identify is reused.
func Auth(svc ports.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res, ok := cachedAuth(c)
			if !ok {
				res = authenticate(c, svc, BearerToken(c.Request(), svc.TokenHeader()))
			}
			if res.err != nil {
				return res.err
			}
			return next(c)
		}
	}
}

// Identify resolves the caller when a token is present (or demo mode is on) so
// that user-scoped rate limits see the user. It never rejects.
func Identify(svc ports.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request(), svc.TokenHeader())
			if token != "" || svc.DemoMode() {
				authenticate(c, svc, token)
			}
			return next(c)
		}
	}
}

func authenticate(c echo.Context, svc ports.AuthService, token string) *authResult {
	req := c.Request()
	user, err := svc.Authenticate(req.Context(), token)
	res := &authResult{user: user, err: err}
	c.Set(ContextKeyAuth, res)
	recordAuth(svc, err)

	if err != nil {
		return res
	}

	c.Set(ContextKeyUser, user)
	reqLog := zerolog.Ctx(req.Context()).With().Str("user_id", user.ID()).Logger()
	c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))
	return res
}

// AuthenticateWebSocket resolves the user for a WebSocket handshake from the
// subprotocol header.
func AuthenticateWebSocket(ctx context.Context, svc ports.AuthService, r *http.Request) (*domain.User, error) {
	user, err := svc.Authenticate(ctx, WebSocketToken(r))
	recordAuth(svc, err)
	return user, err
}

func recordAuth(svc ports.AuthService, err error) {
	var appErr *domain.AppError
	switch {
	case err == nil && svc.DemoMode():
		metrics.AuthAttemptsTotal.WithLabelValues("demo").Inc()
	case err == nil:
		metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	case errors.As(err, &appErr):
		metrics.AuthAttemptsTotal.WithLabelValues(appErr.Code).Inc()
	default:
		metrics.AuthAttemptsTotal.WithLabelValues("error").Inc()
	}
}

// BearerToken reads "Bearer <token>" from header. Any other shape yields "".
func BearerToken(r *http.Request, header string) string {
	if header == "" {
		header = domain.DefaultAuthHeader
	}
	scheme, token, _ := strings.Cut(r.Header.Get(header), " ")
	if !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WebSocketToken extracts the token carried as an "Authorization.Bearer.<token>"
// subprotocol entry.
func WebSocketToken(r *http.Request) string {
	for _, raw := range r.Header.Values(headerWebSocketProtocol) {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, webSocketTokenPrefix) {
				return strings.TrimPrefix(p, webSocketTokenPrefix)
			}
		}
	}
	return ""
}
