// Package auth implements bearer-token auth for the admin/health HTTP
// surface (internal/api), per SPEC_FULL.md §6.4: a shared-secret JWT
// check, not the AD/LDAP user directory the teacher's admin portal used
// — the control plane owns real user accounts and is out of scope here,
// so this package only needs to decide "is this caller allowed to hit
// the admin surface", gated by a single configured secret.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token's payload: a subject identifying the
// caller (operator tooling, the scheduler beat process itself) plus the
// registered expiry/issuer claims.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates bearer tokens signed with a single
// shared secret, per the teacher's `generateToken`/`ValidateToken` pair
// in the old AD-backed authenticator.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// New constructs an Authenticator. An empty secret means auth is
// disabled; callers should check Enabled() before wiring middleware.
func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// IssueToken mints a bearer token for subject (e.g. "scheduler",
// "operator:alice"), signed HS256.
func (a *Authenticator) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Issuer:    "pontoond",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies tokenString, returning its Claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}
