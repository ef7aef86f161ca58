package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// RateLimitStore keeps sliding windows in sorted sets shared by every replica.
// Key format: ratelimit:<scope>:<discriminator>:<rule>, score = unix millis.
type RateLimitStore struct {
	client *redis.Client
}

// NewRateLimitStore creates a RateLimitStore wrapping the given Redis client.
func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Count prunes entries older than the window and returns what is left.
func (s *RateLimitStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	k := s.key(key)
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		card = pipe.ZCard(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ratelimit count: %w", err)
	}
	return int(card.Val()), nil
}

// Add records one event and pushes the key's expiry out to a full window.
func (s *RateLimitStore) Add(ctx context.Context, key string, window time.Duration, now time.Time) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit add: %w", err)
	}
	return nil
}

// Size counts live rate-limit keys with SCAN.
func (s *RateLimitStore) Size(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, rateLimitPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("ratelimit size: %w", err)
	}
	return n, nil
}

func (s *RateLimitStore) key(k string) string {
	return rateLimitPrefix + k
}

// Ping reports whether the backing Redis answers.
func (s *RateLimitStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
