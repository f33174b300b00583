// Package jwt mints and parses the bearer tokens the read-only HTTP
// surface accepts. Each token carries a scope (read, write, admin);
// the scope gates which routes the daemon's middleware lets through.
package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is the coarse permission level embedded in a token.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Claims is the JWT payload fleetkeeper issues.
type Claims struct {
	TokenID string `json:"token_id"`
	Scope   Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for tokenID with the given scope.
func GenerateToken(tokenID string, scope Scope, secret string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenID: tokenID,
		Scope:   scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			Issuer:    "fleetkeeper",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates signature and expiry and returns the claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Allows reports whether a token scope satisfies the required scope:
// admin ⊇ write ⊇ read.
func Allows(have, need Scope) bool {
	rank := map[Scope]int{ScopeRead: 1, ScopeWrite: 2, ScopeAdmin: 3}
	h, ok1 := rank[have]
	n, ok2 := rank[need]
	return ok1 && ok2 && h >= n
}
