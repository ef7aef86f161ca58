package domain

import (
	"net/http"
	"strings"
	"time"
)

// Scope selects the discriminator a rule counts requests against.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeEndpoint Scope = "endpoint"
	ScopeGlobal   Scope = "global"
)

// DefaultMethods is the method set used by rules that do not declare one.
var DefaultMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch,
}

// RequestInfo is the transport-independent view of a request the limiter needs.
type RequestInfo struct {
	Method   string
	Path     string
	ClientIP string
	UserID   string // empty when the caller is anonymous
}

// RateLimitRule is a declarative matcher plus a limit/window pair.
type RateLimitRule struct {
	Name      string        `validate:"required"`
	Limit     int           `validate:"gt=0"`
	Window    time.Duration `validate:"gt=0"`
	Scope     Scope         `validate:"oneof=ip user endpoint global"`
	Paths     []string
	Methods   []string `validate:"dive,required"`
	ExemptIPs []string
}

// Matches reports whether the rule covers the request's method and path.
// Exempt IPs are handled separately by Exempt.
func (r RateLimitRule) Matches(req RequestInfo) bool {
	methods := r.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	found := false
	for _, m := range methods {
		if strings.EqualFold(m, req.Method) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if len(r.Paths) == 0 {
		return true
	}
	for _, p := range r.Paths {
		if strings.HasPrefix(req.Path, p) {
			return true
		}
	}
	return false
}

// Exempt reports whether the client IP is excluded from this rule.
func (r RateLimitRule) Exempt(ip string) bool {
	for _, e := range r.ExemptIPs {
		if e == ip {
			return true
		}
	}
	return false
}

// Key derives the store key: <scope>:<discriminator>:<rule>.
func (r RateLimitRule) Key(req RequestInfo) string {
	var disc string
	switch r.Scope {
	case ScopeIP:
		disc = orDefault(req.ClientIP, "unknown")
	case ScopeUser:
		// Anonymous callers are bucketed per IP so one client cannot drain a shared budget.
		if req.UserID != "" {
			disc = req.UserID
		} else {
			disc = "anonymous@" + orDefault(req.ClientIP, "unknown")
		}
	case ScopeEndpoint:
		disc = req.Path
	default:
		return string(ScopeGlobal) + ":all:" + r.Name
	}
	return string(r.Scope) + ":" + disc + ":" + r.Name
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// RuleIPBlock is reported as the rejecting rule while a client IP is blocked.
const RuleIPBlock = "ip_block"

// RateLimitDecision is the outcome of one limiter check.
type RateLimitDecision struct {
	Allowed    bool
	Rule       string // rejecting rule, or RuleIPBlock
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	IPBlocked  bool
}

// RateLimitStats is a point-in-time copy of the limiter counters.
type RateLimitStats struct {
	TotalRequests   int64            `json:"total_requests"`
	BlockedRequests int64            `json:"blocked_requests"`
	BlockRate       float64          `json:"block_rate"`
	RulesTriggered  map[string]int64 `json:"rules_triggered"`
	BlockedIPsCount int              `json:"blocked_ips_count"`
	StoreSize       int              `json:"store_size"`
}

// DefaultRateLimitRules returns the stock rule set. Order matters: the first
// rule at its limit rejects.
func DefaultRateLimitRules() []RateLimitRule {
	authPaths := []string{"/api/auth", "/routes/auth"}
	return []RateLimitRule{
		{
			Name:   "api_global",
			Limit:  1000,
			Window: time.Hour,
			Scope:  ScopeIP,
			Paths:  []string{"/api", "/routes"},
		},
		{
			Name:   "auth_endpoints",
			Limit:  10,
			Window: 5 * time.Minute,
			Scope:  ScopeIP,
			Paths:  authPaths,
		},
		{
			Name:   "auth_burst",
			Limit:  3,
			Window: time.Minute,
			Scope:  ScopeIP,
			Paths:  authPaths,
		},
		{
			Name:   "ai_endpoints",
			Limit:  50,
			Window: time.Hour,
			Scope:  ScopeUser,
			Paths:  []string{"/api/ai", "/routes/ai", "/api/chat", "/routes/chat"},
		},
		{
			Name:   "user_data",
			Limit:  500,
			Window: time.Hour,
			Scope:  ScopeUser,
			Paths: []string{
				"/api/health_data", "/api/nutrition", "/api/training",
				"/routes/health_data", "/routes/nutrition", "/routes/training",
			},
		},
		{
			Name:   "burst_protection",
			Limit:  20,
			Window: time.Minute,
			Scope:  ScopeIP,
		},
	}
}
