// Package security provides secure random generation utilities
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// GenerateULID generates a new ULID string for asset ids and token ids.
func GenerateULID() string {
	return ulid.Make().String()
}

// IsULID reports whether s parses as a ULID
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// GenerateSecureKey creates a cryptographically secure random key and returns it as a hex string.
// Used to generate signing secrets and admin keys.
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length/2) // Each byte becomes two hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
