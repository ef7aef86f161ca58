package handler

import (
	"context"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

type stubAuth struct {
	demo    bool
	enabled bool
	missing bool
}

func (s *stubAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	switch {
	case s.missing:
		return nil, domain.ErrConfigMissing
	case s.demo:
		return domain.DemoUser(), nil
	case token == "good":
		return &domain.User{Subject: "user-1", Role: domain.RoleAdmin}, nil
	case token == "":
		return nil, domain.ErrUnauthenticated
	default:
		return nil, domain.ErrInvalidToken
	}
}

func (s *stubAuth) DemoMode() bool      { return s.demo }
func (s *stubAuth) Enabled() bool       { return s.enabled || s.demo }
func (s *stubAuth) TokenHeader() string { return domain.DefaultAuthHeader }

type stubLimiter struct {
	stats     domain.RateLimitStats
	resets    int
	blocked   map[string]bool
	unblocked []string
}

func (s *stubLimiter) Check(context.Context, domain.RequestInfo) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{Allowed: true}, nil
}

func (s *stubLimiter) CheckBlocked(string) (domain.RateLimitDecision, bool) {
	return domain.RateLimitDecision{}, false
}

func (s *stubLimiter) Stats(context.Context) domain.RateLimitStats { return s.stats }
func (s *stubLimiter) ResetStats()                                 { s.resets++ }

func (s *stubLimiter) Unblock(ip string) bool {
	s.unblocked = append(s.unblocked, ip)
	return s.blocked[ip]
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }
