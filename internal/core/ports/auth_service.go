package ports

import (
	"context"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// AuthService turns a raw bearer token into an authenticated user.
type AuthService interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	// DemoMode reports whether tokens are bypassed entirely.
	DemoMode() bool
	// TokenHeader is the request header the HTTP transport reads the bearer token from.
	TokenHeader() string
	// Enabled reports whether any trust source (or demo mode) is configured.
	Enabled() bool
}
