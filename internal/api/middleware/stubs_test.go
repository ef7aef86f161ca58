package middleware

import (
	"context"
	"sync"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// stubAuth accepts "good" and rejects everything else.
type stubAuth struct {
	demo   bool
	header string

	mu    sync.Mutex
	calls int
}

func (s *stubAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	switch {
	case s.demo:
		return domain.DemoUser(), nil
	case token == "":
		return nil, domain.ErrUnauthenticated
	case token == "good":
		return &domain.User{Subject: "user-1", Role: domain.RoleAdmin}, nil
	default:
		return nil, domain.ErrInvalidToken
	}
}

func (s *stubAuth) DemoMode() bool { return s.demo }
func (s *stubAuth) Enabled() bool  { return true }
func (s *stubAuth) TokenHeader() string {
	if s.header == "" {
		return domain.DefaultAuthHeader
	}
	return s.header
}

func (s *stubAuth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubLimiter struct {
	decision domain.RateLimitDecision
	err      error
	seen     []domain.RequestInfo

	blocked       map[string]domain.RateLimitDecision
	blockedChecks []string
}

func (s *stubLimiter) CheckBlocked(ip string) (domain.RateLimitDecision, bool) {
	s.blockedChecks = append(s.blockedChecks, ip)
	d, ok := s.blocked[ip]
	return d, ok
}

func (s *stubLimiter) Check(_ context.Context, req domain.RequestInfo) (domain.RateLimitDecision, error) {
	s.seen = append(s.seen, req)
	return s.decision, s.err
}

func (s *stubLimiter) Stats(context.Context) domain.RateLimitStats { return domain.RateLimitStats{} }
func (s *stubLimiter) ResetStats()                                 {}
func (s *stubLimiter) Unblock(string) bool                         { return false }
