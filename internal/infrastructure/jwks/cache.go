package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

const (
	DefaultFetchTimeout    = 5 * time.Second
	DefaultRefetchInterval = time.Minute

	maxDocumentBytes = 1 << 20
)

var ErrKeyNotFound = errors.New("jwks: signing key not found")

// Cache resolves signing keys from JWKS endpoints. A document is fetched once
// per URL and kept for the life of the process; an unknown kid triggers a
// refetch at most once per refetch interval per URL.
type Cache struct {
	client          *http.Client
	timeout         time.Duration
	refetchInterval time.Duration
	log             zerolog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	sets     map[string]*jose.JSONWebKeySet
	limiters map[string]*rate.Limiter
}

type Option func(*Cache)

// WithHTTPClient replaces the client used for fetches. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(cache *Cache) { cache.client = c }
}

func WithRefetchInterval(d time.Duration) Option {
	return func(cache *Cache) { cache.refetchInterval = d }
}

func NewCache(timeout time.Duration, log zerolog.Logger, opts ...Option) *Cache {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	c := &Cache{
		client:          &http.Client{Timeout: timeout},
		timeout:         timeout,
		refetchInterval: DefaultRefetchInterval,
		log:             log,
		sets:            make(map[string]*jose.JSONWebKeySet),
		limiters:        make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.KeyResolver = (*Cache)(nil)

func (c *Cache) SigningKey(ctx context.Context, jwksURL, kid string) (*ports.SigningKey, error) {
	set, err := c.keySet(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	if key, ok := pick(set, kid); ok {
		return key, nil
	}

	if !c.allowRefetch(jwksURL) {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	c.log.Info().Str("url", jwksURL).Str("kid", kid).Msg("unknown kid, refetching jwks")
	set, err = c.fetch(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	if key, ok := pick(set, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (c *Cache) keySet(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	c.mu.RLock()
	set, ok := c.sets[url]
	c.mu.RUnlock()
	if ok {
		return set, nil
	}
	return c.fetch(ctx, url)
}

// fetch collapses concurrent requests for the same URL into one download.
// A failed refresh keeps the previously cached document.
func (c *Cache) fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	v, err, _ := c.group.Do(url, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		set, err := c.download(fetchCtx, url)
		if err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("jwks fetch failed")
			return nil, err
		}

		c.mu.Lock()
		c.sets[url] = set
		if _, ok := c.limiters[url]; !ok {
			c.limiters[url] = rate.NewLimiter(rate.Every(c.refetchInterval), 1)
		}
		c.mu.Unlock()

		c.log.Debug().Str("url", url).Int("keys", len(set.Keys)).Msg("jwks cached")
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKeySet), nil
}

func (c *Cache) download(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return &set, nil
}

func (c *Cache) allowRefetch(url string) bool {
	c.mu.RLock()
	l, ok := c.limiters[url]
	c.mu.RUnlock()
	return ok && l.Allow()
}

// pick selects the key for kid. A token without kid matches a single-key set.
func pick(set *jose.JSONWebKeySet, kid string) (*ports.SigningKey, bool) {
	var candidates []jose.JSONWebKey
	switch {
	case kid != "":
		candidates = set.Key(kid)
	case len(set.Keys) == 1:
		candidates = set.Keys
	}

	for _, k := range candidates {
		if k.Use == "enc" {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		alg := k.Algorithm
		if alg == "" {
			alg = defaultAlgorithm(k.Key)
		}
		return &ports.SigningKey{Key: k.Key, Algorithm: alg}, true
	}
	return nil, false
}

func defaultAlgorithm(key any) string {
	switch key.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	case ed25519.PublicKey:
		return "EdDSA"
	default:
		return ""
	}
}
