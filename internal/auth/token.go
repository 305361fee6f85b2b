// Package auth mints and validates the runtime-issued session tokens of
// §4.6/§6 (ARIA_SESSION_TOKEN): HS256 JWTs carrying a session id and a
// permission set, signed and verified with a single key the runtime holds.
// Adapted from the teacher's pkg/auth/jwt.go JWKS validator — that package
// verifies tokens issued by an external identity provider; this one both
// mints and verifies tokens the runtime itself issues to containers and
// ICC callers, so it carries a signing key instead of a JWKS fetcher.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims is the decoded, validated content of a session token.
type Claims struct {
	UserID      string
	SessionID   string
	Permissions []string
}

// HasPermission reports whether the claims grant perm, honoring the "*"
// wildcard permission minted for the top-level session owner.
func (c Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// Minter issues and validates HS256 session tokens against a single
// symmetric key (§4.6 "the runtime holds the signing key").
type Minter struct {
	key []byte
	ttl time.Duration
}

// NewMinter builds a Minter. ttl defaults to 15 minutes, the spec's
// default container-session token lifetime.
func NewMinter(key []byte, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Minter{key: key, ttl: ttl}
}

// Mint signs a new token for the given claims, valid for the minter's ttl.
func (m *Minter) Mint(claims Claims) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(claims.UserID).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim("session_id", claims.SessionID).
		Claim("permissions", claims.Permissions)

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("auth: build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, m.key))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return string(signed), nil
}

// Validate parses and verifies raw, returning its claims.
func (m *Minter) Validate(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, m.key), jwt.WithValidate(true))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: invalid session token: %w", err)
	}

	claims := Claims{UserID: tok.Subject()}
	if v, ok := tok.Get("session_id"); ok {
		if s, ok := v.(string); ok {
			claims.SessionID = s
		}
	}
	if v, ok := tok.Get("permissions"); ok {
		if list, ok := v.([]any); ok {
			for _, p := range list {
				if s, ok := p.(string); ok {
					claims.Permissions = append(claims.Permissions, s)
				}
			}
		}
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims attaches validated claims to ctx, for handlers downstream of
// authentication middleware.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext retrieves claims attached by WithClaims.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
