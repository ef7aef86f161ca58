package jwks

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover reads the issuer's OpenID configuration and returns its jwks_uri.
func Discover(ctx context.Context, issuerURL string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return "", fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("oidc discovery claims: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", fmt.Errorf("oidc discovery %s: no jwks_uri", issuerURL)
	}
	return meta.JWKSURL, nil
}
