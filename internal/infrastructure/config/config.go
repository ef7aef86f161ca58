package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

type Config struct {
	Port  string `env:"PORT,  default=8000"`
	Env   string `env:"ENV,   default=development"`
	Debug bool   `env:"DEBUG, default=false"`

	// TrustProxy takes the client IP from X-Forwarded-For instead of the socket.
	TrustProxy bool `env:"TRUST_PROXY, default=false"`

	// DemoFlag accepts 1, true or yes.
	DemoFlag string `env:"STAGING_DEMO_MODE, default=false"`

	Log       LogConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Payload   PayloadConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Tracing   TracingConfig
	Ops       OpsConfig
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL,        default=info"`
	Pretty     bool   `env:"LOG_PRETTY,       default=false"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB,  default=100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS,  default=5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS, default=30"`
}

type AuthConfig struct {
	SupabaseURL      string        `env:"SUPABASE_URL"`
	SupabaseAudience string        `env:"SUPABASE_JWT_AUDIENCE, default=authenticated"`
	SupabaseIssuer   string        `env:"SUPABASE_JWT_ISSUER"`
	FirebaseProject  string        `env:"FIREBASE_PROJECT_ID"`
	OIDCIssuerURL    string        `env:"OIDC_ISSUER_URL"`
	OIDCAudience     string        `env:"OIDC_AUDIENCE"`
	JWKSFetchTimeout time.Duration `env:"JWKS_FETCH_TIMEOUT, default=5s"`

	SecretKey string `env:"JWT_SECRET_KEY"`
	Algorithm string `env:"JWT_ALGORITHM, default=HS256"`
	Audience  string `env:"JWT_AUDIENCE"`
	Issuer    string `env:"JWT_ISSUER"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=http://localhost:3000,http://localhost:5173"`
}

type PayloadConfig struct {
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES, default=10485760"`
}

type RateLimitConfig struct {
	Backend       string        `env:"RATE_LIMIT_BACKEND,        default=memory"`
	BlockDuration time.Duration `env:"RATE_LIMIT_BLOCK_DURATION, default=15m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR, default=localhost:6379"`
	DB       int    `env:"REDIS_DB,   default=0"`
	Password string `env:"REDIS_PASSWORD"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE, default=true"`
	SamplingRate float64 `env:"OTEL_TRACES_SAMPLER_RATIO,   default=1"`
}

type OpsConfig struct {
	KeyHash string   `env:"OPS_KEY_HASH"`
	Roles   []string `env:"OPS_ROLES, default=admin,service_role"`
}

// Load reads configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch cfg.RateLimit.Backend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("config: unknown RATE_LIMIT_BACKEND %q", cfg.RateLimit.Backend)
	}
	return &cfg, nil
}

func (c *Config) DemoMode() bool {
	switch strings.ToLower(strings.TrimSpace(c.DemoFlag)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Production disables error details regardless of DEBUG.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Resolver looks up the JWKS URL behind an OIDC issuer.
type Resolver func(ctx context.Context, issuerURL string) (string, error)

// TrustSources derives the ordered JWKS trust sources: Supabase, Firebase, then
// a generic OIDC issuer. Invalid sources are returned as an error.
func (c *Config) TrustSources(ctx context.Context, discover Resolver) ([]domain.AuthTrustConfig, error) {
	var sources []domain.AuthTrustConfig

	if c.Auth.SupabaseURL != "" {
		sources = append(sources, domain.AuthTrustConfig{
			Name:     "supabase",
			JWKSURL:  strings.TrimRight(c.Auth.SupabaseURL, "/") + "/auth/v1/.well-known/jwks.json",
			Audience: c.Auth.SupabaseAudience,
			Issuer:   c.Auth.SupabaseIssuer,
			Header:   domain.DefaultAuthHeader,
		})
	}

	if c.Auth.FirebaseProject != "" {
		sources = append(sources, domain.AuthTrustConfig{
			Name:     "firebase",
			JWKSURL:  "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
			Audience: c.Auth.FirebaseProject,
			Issuer:   "https://securetoken.google.com/" + c.Auth.FirebaseProject,
			Header:   domain.DefaultAuthHeader,
		})
	}

	if c.Auth.OIDCIssuerURL != "" && discover != nil {
		jwksURL, err := discover(ctx, c.Auth.OIDCIssuerURL)
		if err != nil {
			return nil, err
		}
		sources = append(sources, domain.AuthTrustConfig{
			Name:     "oidc",
			JWKSURL:  jwksURL,
			Audience: c.Auth.OIDCAudience,
			Issuer:   c.Auth.OIDCIssuerURL,
			Header:   domain.DefaultAuthHeader,
		})
	}

	v := validator.New()
	for _, src := range sources {
		if err := v.Struct(src); err != nil {
			return nil, fmt.Errorf("trust source %s: %w", src.Name, err)
		}
	}
	return sources, nil
}

// SecretSource returns the shared-secret fallback, or nil when no secret is set.
func (c *Config) SecretSource() (*domain.SecretTrustConfig, error) {
	if c.Auth.SecretKey == "" {
		return nil, nil
	}
	src := &domain.SecretTrustConfig{
		Secret:    c.Auth.SecretKey,
		Algorithm: strings.ToUpper(c.Auth.Algorithm),
		Audience:  c.Auth.Audience,
		Issuer:    c.Auth.Issuer,
	}
	if err := validator.New().Struct(src); err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	return src, nil
}
