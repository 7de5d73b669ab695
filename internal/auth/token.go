// Package auth verifies the bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// RoleAdmin grants the ops endpoints.
const RoleAdmin = "admin"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Admin  bool
}

// TokenManager signs and verifies HS256 tokens carrying the user id in "sub".
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenManager creates a manager. Tokens it issues live for ttl.
func NewTokenManager(secretKey string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secretKey: []byte(secretKey), ttl: ttl, now: time.Now}
}

// GenerateToken issues a token, used by the CLI and tests; production tokens
// come from the identity service.
func (tm *TokenManager) GenerateToken(userID string, admin bool) (string, error) {
	now := tm.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": now.Add(tm.ttl).Unix(),
		"iat": now.Unix(),
	}
	if admin {
		claims["role"] = RoleAdmin
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ParseToken verifies tokenStr and returns its principal.
func (tm *TokenManager) ParseToken(tokenStr string) (Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return tm.secretKey, nil
	}, jwt.WithTimeFunc(tm.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return Principal{UserID: sub, Admin: role == RoleAdmin}, nil
}
