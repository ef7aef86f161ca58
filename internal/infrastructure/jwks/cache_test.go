package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
)

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	set  jose.JSONWebKeySet
}

func newJWKSServer(t *testing.T, keys ...jose.JSONWebKey) *jwksServer {
	t.Helper()
	s := &jwksServer{set: jose.JSONWebKeySet{Keys: keys}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) rotate(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = jose.JSONWebKeySet{Keys: keys}
}

func rsaJWK(t *testing.T, kid, alg string) jose.JSONWebKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
}

func TestCache_FetchesOncePerURL(t *testing.T) {
	srv := newJWKSServer(t, rsaJWK(t, "k1", "RS256"))
	cache := NewCache(time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		key, err := cache.SigningKey(context.Background(), srv.URL, "k1")
		if err != nil {
			t.Fatalf("SigningKey returned error: %v", err)
		}
		if key.Algorithm != "RS256" {
			t.Fatalf("unexpected algorithm %q", key.Algorithm)
		}
		if _, ok := key.Key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key.Key)
		}
	}
	if got := srv.hits.Load(); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
}

func TestCache_ConcurrentFirstUseCollapses(t *testing.T) {
	srv := newJWKSServer(t, rsaJWK(t, "k1", "RS256"))
	cache := NewCache(time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.SigningKey(context.Background(), srv.URL, "k1"); err != nil {
				t.Errorf("SigningKey returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := srv.hits.Load(); got > 2 {
		t.Fatalf("expected concurrent lookups to share a fetch, got %d fetches", got)
	}
}

func TestCache_UnknownKidRefetchIsBounded(t *testing.T) {
	srv := newJWKSServer(t, rsaJWK(t, "k1", "RS256"))
	cache := NewCache(time.Second, zerolog.Nop(), WithRefetchInterval(time.Hour))

	if _, err := cache.SigningKey(context.Background(), srv.URL, "k1"); err != nil {
		t.Fatalf("SigningKey returned error: %v", err)
	}

	srv.rotate(rsaJWK(t, "k1", "RS256"), rsaJWK(t, "k2", "RS256"))
	if _, err := cache.SigningKey(context.Background(), srv.URL, "k2"); err != nil {
		t.Fatalf("expected rotated key to be found after refetch: %v", err)
	}

	_, err := cache.SigningKey(context.Background(), srv.URL, "k3")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if got := srv.hits.Load(); got != 2 {
		t.Fatalf("expected refetch budget to cap fetches at 2, got %d", got)
	}
}

func TestCache_MissingKidWithSingleKey(t *testing.T) {
	srv := newJWKSServer(t, rsaJWK(t, "only", ""))
	cache := NewCache(time.Second, zerolog.Nop())

	key, err := cache.SigningKey(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("SigningKey returned error: %v", err)
	}
	if key.Algorithm != "RS256" {
		t.Fatalf("expected algorithm inferred from key type, got %q", key.Algorithm)
	}
}

func TestCache_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	cache := NewCache(time.Second, zerolog.Nop())

	if _, err := cache.SigningKey(context.Background(), srv.URL, "k1"); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestCache_FetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	cache := NewCache(50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	if _, err := cache.SigningKey(context.Background(), srv.URL, "k1"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch was not bounded by the timeout: %v", elapsed)
	}
}
