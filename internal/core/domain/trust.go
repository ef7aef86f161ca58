package domain

// AuthTrustConfig describes one JWKS-backed verification source.
type AuthTrustConfig struct {
	Name     string `validate:"required"`
	JWKSURL  string `validate:"required,url"`
	Audience string `validate:"required"`
	Issuer   string // empty disables the issuer check
	Header   string // request header carrying the bearer token
}

// SecretTrustConfig describes the shared-secret fallback source.
type SecretTrustConfig struct {
	Secret    string `validate:"required"`
	Algorithm string `validate:"oneof=HS256 HS384 HS512"`
	Audience  string
	Issuer    string
}

const DefaultAuthHeader = "Authorization"
