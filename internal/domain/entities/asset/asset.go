// Package asset defines the stored-object entity that signed URLs point at.
package asset

import (
	"fmt"
	"time"
)

// Access controls which URLs may be issued for an asset.
type Access string

const (
	// AccessPublic assets may be signed and served through the public fallback.
	AccessPublic Access = "public"
	// AccessPrivate assets may be signed; the public route still serves them
	// as the degraded fallback.
	AccessPrivate Access = "private"
	// AccessRestricted assets are never signed nor served publicly.
	AccessRestricted Access = "restricted"
)

// ParseAccess validates a textual access level, defaulting to private.
func ParseAccess(s string) (Access, error) {
	switch Access(s) {
	case "":
		return AccessPrivate, nil
	case AccessPublic, AccessPrivate, AccessRestricted:
		return Access(s), nil
	}
	return "", fmt.Errorf("unknown access level %q", s)
}

type Asset struct {
	ID          string     `json:"id"`
	StorageKey  string     `json:"storageKey"`
	ContentType string     `json:"contentType"`
	Size        int64      `json:"size"`
	Access      Access     `json:"access"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the asset was soft-deleted
func (a *Asset) Deleted() bool {
	return a.DeletedAt != nil
}

// Signable reports whether time-limited URLs may be issued.
func (a *Asset) Signable() bool {
	return !a.Deleted() && a.Access != AccessRestricted
}

// PubliclyServable reports whether the long-lived public route may serve it.
func (a *Asset) PubliclyServable() bool {
	return !a.Deleted() && a.Access != AccessRestricted
}
