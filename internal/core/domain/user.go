package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleDemo    = "demo"
	RoleAdmin   = "admin"
	RoleService = "service_role"
)

// User models an authenticated caller. It is built once per request from
// verified token claims and is never mutated afterwards.
type User struct {
	Subject   string         `json:"sub"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	Role      string         `json:"role,omitempty"`
	RawClaims map[string]any `json:"-"`
}

// ID returns the subject, the stable identifier of the user within its trust source.
func (u *User) ID() string {
	return u.Subject
}

// DemoUser is the fixed identity returned while demo mode is active.
func DemoUser() *User {
	return &User{
		Subject:   "demo-user-1",
		Email:     "demo.user@nexus.pulse",
		Name:      "Demo User",
		Role:      RoleDemo,
		RawClaims: map[string]any{},
	}
}

// userMetadata is the nested profile object some issuers (Supabase) attach to tokens.
type userMetadata struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
}

// TokenClaims is the typed view of a verified token payload.
type TokenClaims struct {
	Subject      string       `json:"sub"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	UserMetadata userMetadata `json:"user_metadata"`

	raw map[string]any
}

// ClaimsFromMap decodes a verified claims map into TokenClaims. Fields with an
// unexpected JSON type are rejected here rather than surfacing later.
func ClaimsFromMap(raw map[string]any) (*TokenClaims, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode claims: %w", err)
	}

	var tc TokenClaims
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	tc.raw = raw
	return &tc, nil
}

// User maps the claims to a User. A missing subject yields ErrMissingSubject.
func (tc *TokenClaims) User() (*User, error) {
	if strings.TrimSpace(tc.Subject) == "" {
		return nil, ErrMissingSubject
	}

	name := tc.Name
	if name == "" {
		name = tc.UserMetadata.FullName
	}
	if name == "" {
		name = tc.UserMetadata.Name
	}

	raw := tc.raw
	if raw == nil {
		raw = map[string]any{}
	}

	return &User{
		Subject:   tc.Subject,
		Email:     tc.Email,
		Name:      name,
		Role:      tc.Role,
		RawClaims: raw,
	}, nil
}
