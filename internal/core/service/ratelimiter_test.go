package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

type stubStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
	err    error
}

func newStubStore() *stubStore {
	return &stubStore{events: make(map[string][]time.Time)}
}

func (s *stubStore) Count(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for _, ts := range s.events[key] {
		if ts.After(now.Add(-window)) {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) Add(_ context.Context, key string, _ time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[key] = append(s.events[key], now)
	return nil
}

func (s *stubStore) Size(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), nil
}

func newLimiter(rules []domain.RateLimitRule, clock *fixedClock) *RateLimiterService {
	return NewRateLimiterService(rules, newStubStore(), clock, 0, zerolog.Nop())
}

func apiReq(ip string) domain.RequestInfo {
	return domain.RequestInfo{Method: "GET", Path: "/api/items", ClientIP: ip}
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 3, Window: time.Minute, Scope: domain.ScopeIP}}, clock)

	for i := 0; i < 3; i++ {
		d, err := rl.Check(context.Background(), apiReq("1.1.1.1"))
		if err != nil {
			t.Fatalf("Check returned error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected", i+1)
		}
		if want := 3 - i - 1; d.Remaining != want {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, want, d.Remaining)
		}
	}

	d, _ := rl.Check(context.Background(), apiReq("1.1.1.1"))
	if d.Allowed {
		t.Fatalf("expected 4th request to be rejected")
	}
	if d.Rule != "r" || d.RetryAfter != time.Minute {
		t.Fatalf("unexpected rejection: %+v", d)
	}
	if d.IPBlocked {
		t.Fatalf("did not expect block at L+1")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 2, Window: time.Minute, Scope: domain.ScopeIP}}, clock)

	for i := 0; i < 2; i++ {
		_, _ = rl.Check(context.Background(), apiReq("1.1.1.1"))
	}
	if d, _ := rl.Check(context.Background(), apiReq("1.1.1.1")); d.Allowed {
		t.Fatalf("expected rejection inside the window")
	}

	clock.Advance(time.Minute + time.Second)
	if d, _ := rl.Check(context.Background(), apiReq("1.1.1.1")); !d.Allowed {
		t.Fatalf("expected acceptance after the window elapsed: %+v", d)
	}
}

func TestRateLimiter_BlocksAtTwiceLimit(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rules := []domain.RateLimitRule{
		{Name: "auth", Limit: 2, Window: time.Minute, Scope: domain.ScopeIP, Paths: []string{"/api/auth"}},
	}
	rl := newLimiter(rules, clock)
	authReq := domain.RequestInfo{Method: "POST", Path: "/api/auth/login", ClientIP: "9.9.9.9"}

	var last domain.RateLimitDecision
	for i := 0; i < 4; i++ {
		last, _ = rl.Check(context.Background(), authReq)
	}
	if last.Allowed || !last.IPBlocked {
		t.Fatalf("expected the 2L-th attempt to block the ip, got %+v", last)
	}

	// A path no rule covers is still refused while blocked.
	d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/other", ClientIP: "9.9.9.9"})
	if d.Allowed || d.Rule != domain.RuleIPBlock {
		t.Fatalf("expected ip_block rejection, got %+v", d)
	}
	if d.RetryAfter != DefaultBlockDuration {
		t.Fatalf("expected retry after %v, got %v", DefaultBlockDuration, d.RetryAfter)
	}

	if d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/other", ClientIP: "8.8.8.8"}); !d.Allowed {
		t.Fatalf("other ips must not be affected")
	}

	clock.Advance(DefaultBlockDuration + time.Second)
	if d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/other", ClientIP: "9.9.9.9"}); !d.Allowed {
		t.Fatalf("expected block to expire, got %+v", d)
	}
	if got := rl.Stats(context.Background()).BlockedIPsCount; got != 0 {
		t.Fatalf("expected expired block to be removed, got %d", got)
	}
}

func TestRateLimiter_FirstExhaustedRuleRejects(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rules := []domain.RateLimitRule{
		{Name: "wide", Limit: 100, Window: time.Hour, Scope: domain.ScopeIP},
		{Name: "narrow", Limit: 1, Window: time.Minute, Scope: domain.ScopeIP, Paths: []string{"/api/items"}},
	}
	rl := newLimiter(rules, clock)

	d, _ := rl.Check(context.Background(), apiReq("2.2.2.2"))
	if !d.Allowed || d.Remaining != 0 || d.Rule != "narrow" {
		t.Fatalf("expected narrow rule to define remaining, got %+v", d)
	}
	if !d.ResetAt.Equal(clock.now.Add(time.Minute)) {
		t.Fatalf("expected reset at narrow window end, got %v", d.ResetAt)
	}

	d, _ = rl.Check(context.Background(), apiReq("2.2.2.2"))
	if d.Allowed || d.Rule != "narrow" {
		t.Fatalf("expected narrow rejection, got %+v", d)
	}

	// The wide rule counted the first request only.
	d, _ = rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/api/other", ClientIP: "2.2.2.2"})
	if !d.Allowed || d.Remaining != 98 {
		t.Fatalf("expected wide rule remaining 98, got %+v", d)
	}
}

func TestRateLimiter_ExemptAndUnmatched(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rules := []domain.RateLimitRule{
		{Name: "r", Limit: 1, Window: time.Minute, Scope: domain.ScopeIP, ExemptIPs: []string{"127.0.0.1"}, Methods: []string{"POST"}},
	}
	rl := newLimiter(rules, clock)

	for i := 0; i < 5; i++ {
		d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "POST", Path: "/x", ClientIP: "127.0.0.1"})
		if !d.Allowed {
			t.Fatalf("exempt ip rejected on attempt %d", i+1)
		}
	}

	d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/x", ClientIP: "3.3.3.3"})
	if !d.Allowed || d.Remaining != 1000 {
		t.Fatalf("expected default remaining for unmatched request, got %+v", d)
	}
}

func TestRateLimiter_UserScope(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "ai", Limit: 1, Window: time.Hour, Scope: domain.ScopeUser}}, clock)

	alice := domain.RequestInfo{Method: "POST", Path: "/api/ai", ClientIP: "4.4.4.4", UserID: "alice"}
	bob := domain.RequestInfo{Method: "POST", Path: "/api/ai", ClientIP: "4.4.4.4", UserID: "bob"}

	if d, _ := rl.Check(context.Background(), alice); !d.Allowed {
		t.Fatalf("alice first request rejected")
	}
	if d, _ := rl.Check(context.Background(), bob); !d.Allowed {
		t.Fatalf("bob must have an independent budget")
	}
	if d, _ := rl.Check(context.Background(), alice); d.Allowed {
		t.Fatalf("alice second request accepted")
	}
}

func TestRateLimiter_StoreErrorPropagates(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	store := newStubStore()
	store.err = errors.New("connection refused")
	rl := NewRateLimiterService([]domain.RateLimitRule{{Name: "r", Limit: 1, Window: time.Minute, Scope: domain.ScopeGlobal}}, store, clock, 0, zerolog.Nop())

	if _, err := rl.Check(context.Background(), apiReq("5.5.5.5")); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestRateLimiter_Stats(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 1, Window: time.Minute, Scope: domain.ScopeIP}}, clock)

	_, _ = rl.Check(context.Background(), apiReq("6.6.6.6"))
	_, _ = rl.Check(context.Background(), apiReq("6.6.6.6"))

	st := rl.Stats(context.Background())
	if st.TotalRequests != 2 || st.BlockedRequests != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.BlockRate != 0.5 {
		t.Fatalf("expected block rate 0.5, got %v", st.BlockRate)
	}
	if st.RulesTriggered["r"] != 1 {
		t.Fatalf("expected rule r triggered once, got %v", st.RulesTriggered)
	}
	if st.StoreSize == 0 {
		t.Fatalf("expected non-empty store")
	}

	rl.ResetStats()
	if st := rl.Stats(context.Background()); st.TotalRequests != 0 || len(st.RulesTriggered) != 0 {
		t.Fatalf("expected reset counters, got %+v", st)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 50, Window: time.Minute, Scope: domain.ScopeGlobal}}, clock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.Check(context.Background(), apiReq(""))
			if err == nil && d.Allowed {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 50 {
		t.Fatalf("expected exactly 50 accepted, got %d", accepted)
	}
}

func TestRateLimiter_Unblock(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 1, Window: time.Hour, Scope: domain.ScopeIP, Paths: []string{"/api"}}}, clock)
	req := apiReq("7.7.7.7")

	_, _ = rl.Check(context.Background(), req)
	_, _ = rl.Check(context.Background(), req)
	if d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/free", ClientIP: "7.7.7.7"}); d.Allowed {
		t.Fatalf("expected ip to be blocked")
	}

	if !rl.Unblock("7.7.7.7") {
		t.Fatalf("expected an active block to be lifted")
	}
	if rl.Unblock("7.7.7.7") {
		t.Fatalf("second unblock must report nothing lifted")
	}
	if d, _ := rl.Check(context.Background(), domain.RequestInfo{Method: "GET", Path: "/free", ClientIP: "7.7.7.7"}); !d.Allowed {
		t.Fatalf("expected unblocked ip to pass unmatched paths, got %+v", d)
	}
}

func TestRateLimiter_CheckBlocked(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rl := newLimiter([]domain.RateLimitRule{{Name: "r", Limit: 1, Window: time.Minute, Scope: domain.ScopeIP}}, clock)

	if _, blocked := rl.CheckBlocked("5.5.5.5"); blocked {
		t.Fatalf("unknown ip must not be blocked")
	}
	if st := rl.Stats(context.Background()); st.TotalRequests != 0 {
		t.Fatalf("an unblocked lookup must not be counted, got %+v", st)
	}

	_, _ = rl.Check(context.Background(), apiReq("5.5.5.5"))
	_, _ = rl.Check(context.Background(), apiReq("5.5.5.5"))

	d, blocked := rl.CheckBlocked("5.5.5.5")
	if !blocked || d.Rule != domain.RuleIPBlock || d.RetryAfter != DefaultBlockDuration {
		t.Fatalf("expected an active block, got %+v", d)
	}
	st := rl.Stats(context.Background())
	if st.TotalRequests != 3 || st.BlockedRequests != 2 || st.RulesTriggered[domain.RuleIPBlock] != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}

	clock.Advance(DefaultBlockDuration)
	if _, blocked := rl.CheckBlocked("5.5.5.5"); blocked {
		t.Fatalf("expected the block to expire")
	}
}

// gatedStore holds Count for one key until gate is closed.
type gatedStore struct {
	*stubStore
	key     string
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	if key == s.key {
		close(s.entered)
		<-s.gate
	}
	return s.stubStore.Count(ctx, key, window, now)
}

func TestRateLimiter_SlowKeyDoesNotStallOtherKeys(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	rule := domain.RateLimitRule{Name: "r", Limit: 5, Window: time.Minute, Scope: domain.ScopeIP}
	store := &gatedStore{
		stubStore: newStubStore(),
		key:       rule.Key(apiReq("10.0.0.1")),
		entered:   make(chan struct{}),
		gate:      make(chan struct{}),
	}
	rl := NewRateLimiterService([]domain.RateLimitRule{rule}, store, clock, 0, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := rl.Check(context.Background(), apiReq("10.0.0.1"))
		done <- err
	}()
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := rl.Check(ctx, apiReq("10.0.0.2"))
	if err != nil || !d.Allowed {
		t.Fatalf("unrelated ip must not wait on a slow key, d=%+v err=%v", d, err)
	}
	if st := rl.Stats(ctx); st.TotalRequests != 2 {
		t.Fatalf("stats must not wait on a slow key, got %+v", st)
	}

	// The same key waits and gives up with the caller's context.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if _, err := rl.Check(short, apiReq("10.0.0.1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while the key is held, got %v", err)
	}

	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("slow check failed: %v", err)
	}
	if n := rl.keys.size(); n != 0 {
		t.Fatalf("expected key locks to be released, %d left", n)
	}
}
