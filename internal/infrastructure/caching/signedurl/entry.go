package signedurl

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingRef is returned when neither an asset id nor a storage key is given.
	ErrMissingRef = errors.New("signedurl: either assetId or storageKey must be provided")
	// ErrInvalidResponse is returned when the sign endpoint answers 2xx without a URL.
	ErrInvalidResponse = errors.New("signedurl: invalid response from sign endpoint")
)

// StatusError carries a non-2xx answer from the sign endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sign endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("sign endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// Ref locates an asset either by record id or by direct storage key.
// When both are set the asset id determines the cache key.
type Ref struct {
	AssetID    string `json:"assetId,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
}

// IsZero reports whether neither locator is set
func (r Ref) IsZero() bool {
	return r.AssetID == "" && r.StorageKey == ""
}

// Key returns the cache key for r in its namespace.
func (r Ref) Key() (string, error) {
	switch {
	case r.AssetID != "":
		return "asset:" + r.AssetID, nil
	case r.StorageKey != "":
		return "storage:" + r.StorageKey, nil
	default:
		return "", ErrMissingRef
	}
}

func (r Ref) String() string {
	key, err := r.Key()
	if err != nil {
		return "<empty>"
	}
	return key
}

// Entry is one cached resolution.
type Entry struct {
	Key       string
	URL       string
	TTL       time.Duration
	CreatedAt time.Time
}

// ExpiresAt is when the signed URL itself stops working
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Stale reports whether the entry is within buffer of expiry at now.
func (e Entry) Stale(now time.Time, buffer time.Duration) bool {
	return !now.Before(e.ExpiresAt().Add(-buffer))
}

// EntryStats describes one entry for observability
type EntryStats struct {
	Key       string        `json:"key"`
	TTL       time.Duration `json:"ttl"`
	Age       time.Duration `json:"age"`
	ExpiresIn time.Duration `json:"expiresIn"`
	Stale     bool          `json:"stale"`
}

// Stats is a snapshot of the cache contents, oldest insertion first
type Stats struct {
	Size    int          `json:"size"`
	MaxSize int          `json:"maxSize"`
	Entries []EntryStats `json:"entries"`
}
