package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

const (
	DefaultBlockDuration = 15 * time.Minute

	// defaultRemaining is reported when no rule matches the request.
	defaultRemaining = 1000
)

// RateLimiterService evaluates an ordered rule set against a RateLimitStore and
// maintains a temporary IP blocklist.
type RateLimiterService struct {
	rules         []domain.RateLimitRule
	store         ports.RateLimitStore
	clock         ports.Clock
	blockDuration time.Duration
	log           zerolog.Logger

	// keys makes read-decide-record atomic per store key. mu only guards the
	// blocklist and counters and is never held across a store call.
	keys      *keyLocks
	mu        sync.Mutex
	blocked   map[string]time.Time
	total     int64
	rejected  int64
	triggered map[string]int64
}

func NewRateLimiterService(
	rules []domain.RateLimitRule,
	store ports.RateLimitStore,
	clock ports.Clock,
	blockDuration time.Duration,
	log zerolog.Logger,
) *RateLimiterService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if blockDuration <= 0 {
		blockDuration = DefaultBlockDuration
	}
	return &RateLimiterService{
		rules:         rules,
		store:         store,
		clock:         clock,
		blockDuration: blockDuration,
		log:           log,
		keys:          newKeyLocks(),
		blocked:       make(map[string]time.Time),
		triggered:     make(map[string]int64),
	}
}

func (s *RateLimiterService) CheckBlocked(ip string) (domain.RateLimitDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.blockedLocked(ip, s.clock.Now())
	if ok {
		s.total++
		s.rejectLocked(domain.RuleIPBlock)
	}
	return d, ok
}

func (s *RateLimiterService) Check(ctx context.Context, req domain.RequestInfo) (domain.RateLimitDecision, error) {
	now := s.clock.Now()

	s.mu.Lock()
	s.total++
	if d, ok := s.blockedLocked(req.ClientIP, now); ok {
		s.rejectLocked(domain.RuleIPBlock)
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	applicable := make([]domain.RateLimitRule, 0, len(s.rules))
	keys := make([]string, 0, len(s.rules))
	for _, rule := range s.rules {
		if !rule.Matches(req) || rule.Exempt(req.ClientIP) {
			continue
		}
		applicable = append(applicable, rule)
		keys = append(keys, rule.Key(req))
	}

	release, err := s.keys.acquire(ctx, keys)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	defer release()
	now = s.clock.Now()

	counts := make([]int, 0, len(applicable))
	for i, rule := range applicable {
		key := keys[i]
		count, err := s.store.Count(ctx, key, rule.Window, now)
		if err != nil {
			return domain.RateLimitDecision{}, fmt.Errorf("count %s: %w", key, err)
		}

		if count >= rule.Limit {
			blocked, err := s.escalate(ctx, req, rule, key, count, now)
			if err != nil {
				return domain.RateLimitDecision{}, err
			}
			s.reject(rule.Name)
			return domain.RateLimitDecision{
				Rule:       rule.Name,
				Limit:      rule.Limit,
				RetryAfter: rule.Window,
				ResetAt:    now.Add(rule.Window),
				IPBlocked:  blocked,
			}, nil
		}
		counts = append(counts, count)
	}

	decision := domain.RateLimitDecision{Allowed: true, Limit: defaultRemaining, Remaining: defaultRemaining}
	for i, rule := range applicable {
		if err := s.store.Add(ctx, keys[i], rule.Window, now); err != nil {
			return domain.RateLimitDecision{}, fmt.Errorf("record %s: %w", rule.Name, err)
		}

		remaining := rule.Limit - counts[i] - 1
		if i == 0 || remaining < decision.Remaining {
			decision.Rule = rule.Name
			decision.Limit = rule.Limit
			decision.Remaining = remaining
			decision.ResetAt = now.Add(rule.Window)
		}
	}
	if len(applicable) == 0 {
		decision.ResetAt = now
	}
	return decision, nil
}

// blockedLocked reports an active block for ip and drops an expired one.
func (s *RateLimiterService) blockedLocked(ip string, now time.Time) (domain.RateLimitDecision, bool) {
	until, ok := s.blocked[ip]
	if !ok || ip == "" {
		return domain.RateLimitDecision{}, false
	}
	if !now.Before(until) {
		delete(s.blocked, ip)
		return domain.RateLimitDecision{}, false
	}
	return domain.RateLimitDecision{
		Rule:       domain.RuleIPBlock,
		RetryAfter: until.Sub(now),
		ResetAt:    until,
		IPBlocked:  true,
	}, true
}

// escalate records a rejected attempt and blocks the client IP once accepted
// plus rejected attempts within the window reach twice the rule's limit.
func (s *RateLimiterService) escalate(
	ctx context.Context,
	req domain.RequestInfo,
	rule domain.RateLimitRule,
	key string,
	count int,
	now time.Time,
) (bool, error) {
	overflowKey := key + ":overflow"
	if err := s.store.Add(ctx, overflowKey, rule.Window, now); err != nil {
		return false, fmt.Errorf("record overflow %s: %w", key, err)
	}
	overflow, err := s.store.Count(ctx, overflowKey, rule.Window, now)
	if err != nil {
		return false, fmt.Errorf("count overflow %s: %w", key, err)
	}

	if req.ClientIP == "" || count+overflow < 2*rule.Limit {
		return false, nil
	}

	s.mu.Lock()
	s.blocked[req.ClientIP] = now.Add(s.blockDuration)
	s.mu.Unlock()
	s.log.Warn().
		Str("ip", req.ClientIP).
		Str("rule", rule.Name).
		Int("attempts", count+overflow).
		Dur("block_duration", s.blockDuration).
		Msg("client ip blocked")
	return true, nil
}

func (s *RateLimiterService) reject(rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLocked(rule)
}

func (s *RateLimiterService) rejectLocked(rule string) {
	s.rejected++
	s.triggered[rule]++
}

// Stats returns a copy of the counters. Expired blocklist entries are dropped
// first. The store is sized without holding the counter lock.
func (s *RateLimiterService) Stats(ctx context.Context) domain.RateLimitStats {
	size, err := s.store.Size(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("rate limit store size unavailable")
		size = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for ip, until := range s.blocked {
		if !now.Before(until) {
			delete(s.blocked, ip)
		}
	}

	triggered := make(map[string]int64, len(s.triggered))
	for k, v := range s.triggered {
		triggered[k] = v
	}

	var rate float64
	if s.total > 0 {
		rate = float64(s.rejected) / float64(s.total)
	}

	return domain.RateLimitStats{
		TotalRequests:   s.total,
		BlockedRequests: s.rejected,
		BlockRate:       rate,
		RulesTriggered:  triggered,
		BlockedIPsCount: len(s.blocked),
		StoreSize:       size,
	}
}

// ResetStats zeroes the counters. The blocklist and stored windows are kept.
func (s *RateLimiterService) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = 0
	s.rejected = 0
	s.triggered = make(map[string]int64)
}

func (s *RateLimiterService) Unblock(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocked[ip]
	delete(s.blocked, ip)
	if ok {
		s.log.Info().Str("ip", ip).Msg("client ip unblocked")
	}
	return ok && s.clock.Now().Before(until)
}
