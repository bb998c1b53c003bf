package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrAdminKey is returned when an admin key does not match the stored hash.
var ErrAdminKey = errors.New("invalid admin key")

// HashAdminKey returns the bcrypt hash to store as ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin key: %w", err)
	}
	return string(hash), nil
}

// CheckAdminKey compares key against hash. An empty hash rejects everything.
func CheckAdminKey(hash, key string) error {
	if hash == "" || key == "" {
		return ErrAdminKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrAdminKey
	}
	return nil
}
