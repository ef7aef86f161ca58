package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

// Strategy verifies a token against one trust source. A non-nil error means
// only that this source did not accept the token.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, token string) (jwt.MapClaims, error)
}

// JWKSStrategy verifies RS256 tokens with keys published at a JWKS endpoint.
type JWKSStrategy struct {
	cfg   domain.AuthTrustConfig
	keys  ports.KeyResolver
	clock ports.Clock
}

func NewJWKSStrategy(cfg domain.AuthTrustConfig, keys ports.KeyResolver, clock ports.Clock) *JWKSStrategy {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &JWKSStrategy{cfg: cfg, keys: keys, clock: clock}
}

func (s *JWKSStrategy) Name() string { return "jwks:" + s.cfg.Name }

func (s *JWKSStrategy) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		sk, err := s.keys.SigningKey(ctx, s.cfg.JWKSURL, kid)
		if err != nil {
			return nil, fmt.Errorf("resolve signing key: %w", err)
		}
		if sk.Algorithm != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unsupported signing algorithm: %s", sk.Algorithm)
		}
		return sk.Key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// SecretStrategy verifies tokens signed with a shared symmetric secret.
type SecretStrategy struct {
	cfg   domain.SecretTrustConfig
	clock ports.Clock
}

func NewSecretStrategy(cfg domain.SecretTrustConfig, clock ports.Clock) *SecretStrategy {
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &SecretStrategy{cfg: cfg, clock: clock}
}

func (s *SecretStrategy) Name() string { return "secret" }

func (s *SecretStrategy) Verify(_ context.Context, token string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.cfg.Algorithm}),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// AuthOptions configures AuthService. JWKS sources are tried in order, then the secret.
type AuthOptions struct {
	DemoMode bool
	Sources  []domain.AuthTrustConfig
	Secret   *domain.SecretTrustConfig
	Keys     ports.KeyResolver
	Clock    ports.Clock
}

// AuthService implements token authentication over an ordered list of strategies.
type AuthService struct {
	demo       bool
	header     string
	strategies []Strategy
	log        zerolog.Logger
}

func NewAuthService(opts AuthOptions, log zerolog.Logger) *AuthService {
	header := domain.DefaultAuthHeader
	if len(opts.Sources) > 0 && opts.Sources[0].Header != "" {
		header = opts.Sources[0].Header
	}

	strategies := make([]Strategy, 0, len(opts.Sources)+1)
	for _, src := range opts.Sources {
		strategies = append(strategies, NewJWKSStrategy(src, opts.Keys, opts.Clock))
	}
	if opts.Secret != nil && opts.Secret.Secret != "" {
		strategies = append(strategies, NewSecretStrategy(*opts.Secret, opts.Clock))
	}

	return NewAuthServiceWithStrategies(opts.DemoMode, header, strategies, log)
}

// NewAuthServiceWithStrategies builds an AuthService from pre-built strategies.
func NewAuthServiceWithStrategies(demo bool, header string, strategies []Strategy, log zerolog.Logger) *AuthService {
	if header == "" {
		header = domain.DefaultAuthHeader
	}
	return &AuthService{demo: demo, header: header, strategies: strategies, log: log}
}

func (s *AuthService) DemoMode() bool      { return s.demo }
func (s *AuthService) TokenHeader() string { return s.header }
func (s *AuthService) Enabled() bool       { return s.demo || len(s.strategies) > 0 }

// Authenticate resolves the user for token. Demo mode short-circuits before any
// token inspection; otherwise strategies are tried in order until one verifies.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if s.demo {
		return domain.DemoUser(), nil
	}
	if len(s.strategies) == 0 {
		return nil, domain.ErrConfigMissing
	}
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	for _, st := range s.strategies {
		claims, err := st.Verify(ctx, token)
		if err != nil {
			s.log.Debug().Err(err).Str("source", st.Name()).Msg("token rejected by trust source")
			continue
		}

		tc, err := domain.ClaimsFromMap(claims)
		if err != nil {
			s.log.Debug().Err(err).Str("source", st.Name()).Msg("token claims malformed")
			continue
		}

		user, err := tc.User()
		if errors.Is(err, domain.ErrMissingSubject) {
			s.log.Warn().Str("source", st.Name()).Msg("verified token has no subject")
			return nil, domain.ErrForbidden
		}
		if err != nil {
			return nil, err
		}

		s.log.Debug().Str("source", st.Name()).Str("sub", user.Subject).Msg("user authenticated")
		return user, nil
	}

	return nil, domain.ErrInvalidToken
}
