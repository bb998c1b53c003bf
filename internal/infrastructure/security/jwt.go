// Package security provides file token, id and admin key utilities
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken covers malformed, expired and mis-signed tokens.
	ErrInvalidToken = errors.New("invalid file token")
	// ErrTokenSubject is returned when a valid token was issued for another key.
	ErrTokenSubject = errors.New("file token does not match requested key")
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = errors.New("signing secret is not configured")
)

// FileClaims are the claims carried by a signed file URL token.
type FileClaims struct {
	jwt.RegisteredClaims
}

// SignFileToken issues an HS256 token granting access to storageKey for ttl.
func SignFileToken(storageKey string, ttl time.Duration, secret string) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, ErrNoSecret
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := FileClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   storageKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        GenerateULID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign file token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateFileToken checks the signature and expiry of tokenString and that
// it was issued for storageKey.
func ValidateFileToken(tokenString, storageKey, secret string) (*FileClaims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	claims := &FileClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != storageKey {
		return nil, ErrTokenSubject
	}
	return claims, nil
}
