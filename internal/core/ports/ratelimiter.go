package ports

import (
	"context"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// RateLimiter decides whether a request may proceed.
type RateLimiter interface {
	Check(ctx context.Context, req domain.RequestInfo) (domain.RateLimitDecision, error)
	// CheckBlocked consults only the IP blocklist. A blocked request is counted
	// as rejected; an unblocked one is not counted and still needs Check.
	CheckBlocked(ip string) (domain.RateLimitDecision, bool)
	Stats(ctx context.Context) domain.RateLimitStats
	ResetStats()
	// Unblock lifts a temporary IP block and reports whether one was active.
	Unblock(ip string) bool
}
