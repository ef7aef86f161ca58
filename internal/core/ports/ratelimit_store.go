package ports

import (
	"context"
	"time"
)

// RateLimitStore is a self-pruning multiset of request timestamps per key.
// Implementations must be safe for concurrent use.
type RateLimitStore interface {
	// Count returns the number of events recorded for key within the trailing window ending at now.
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	// Add records an event at now. window bounds how long the event stays relevant.
	Add(ctx context.Context, key string, window time.Duration, now time.Time) error
	// Size returns the number of live keys.
	Size(ctx context.Context) (int, error)
}
