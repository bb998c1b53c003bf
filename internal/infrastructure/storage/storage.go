// Package storage maps storage keys to files on disk and to long-lived public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

var (
	// ErrInvalidKey is returned for empty keys and keys escaping the storage root.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrNoPublicURL is returned when an asset may not be served publicly.
	ErrNoPublicURL = errors.New("asset has no public URL")
)

// CleanKey normalises a storage key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.ContainsRune(key, 0) {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// EscapeKey escapes each path segment of key for use in a URL path.
func EscapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// LocalStore resolves storage keys under a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Path returns the on-disk path for key. The file may not exist.
func (s *LocalStore) Path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Exists reports whether a regular file is stored under key
func (s *LocalStore) Exists(key string) bool {
	p, err := s.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// PublicURLBuilder builds the non-expiring URLs served by the public route.
type PublicURLBuilder struct {
	base string
}

func NewPublicURLBuilder(baseURL string) *PublicURLBuilder {
	return &PublicURLBuilder{base: strings.TrimRight(baseURL, "/")}
}

// PublicURL returns <base>/public/<escaped key>.
func (b *PublicURLBuilder) PublicURL(storageKey string) string {
	return b.base + "/public/" + EscapeKey(strings.TrimPrefix(storageKey, "/"))
}

// AssetLookup is the read side of the asset repository the fallback needs.
type AssetLookup interface {
	FindByID(id string) (*asset.Asset, error)
	FindByStorageKey(storageKey string) (*asset.Asset, error)
}

// Fallback returns a resolver fallback producing public URLs for assets that
// may be served publicly.
func Fallback(assets AssetLookup, builder *PublicURLBuilder) func(context.Context, signedurl.Ref) (string, error) {
	return func(ctx context.Context, ref signedurl.Ref) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var (
			a   *asset.Asset
			err error
		)
		switch {
		case ref.AssetID != "":
			a, err = assets.FindByID(ref.AssetID)
		case ref.StorageKey != "":
			a, err = assets.FindByStorageKey(ref.StorageKey)
		default:
			return "", signedurl.ErrMissingRef
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up %s: %w", ref, err)
		}
		if a == nil || !a.PubliclyServable() {
			return "", fmt.Errorf("%w: %s", ErrNoPublicURL, ref)
		}
		return builder.PublicURL(a.StorageKey), nil
	}
}
