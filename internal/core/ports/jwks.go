package ports

import "context"

// SigningKey is a resolved verification key and the algorithm it is published for.
type SigningKey struct {
	Key       any
	Algorithm string
}

// KeyResolver resolves the signing key for a key ID from a JWKS endpoint.
type KeyResolver interface {
	SigningKey(ctx context.Context, jwksURL, kid string) (*SigningKey, error)
}
