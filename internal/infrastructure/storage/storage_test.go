package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

type memoryAssets map[string]*asset.Asset

func (m memoryAssets) FindByID(id string) (*asset.Asset, error) { return m[id], nil }

func (m memoryAssets) FindByStorageKey(key string) (*asset.Asset, error) {
	for _, a := range m {
		if a.StorageKey == key {
			return a, nil
		}
	}
	return nil, nil
}

func TestCleanKey(t *testing.T) {
	for in, want := range map[string]string{
		"uploads/a.png":    "uploads/a.png",
		"/uploads/a.png":   "uploads/a.png",
		"uploads//./a.png": "uploads/a.png",
	} {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "/", "..", "../etc/passwd", "uploads/../../x"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestPublicURL(t *testing.T) {
	b := NewPublicURLBuilder("https://cdn.local/")
	assert.Equal(t, "https://cdn.local/public/uploads/my%20photo.png", b.PublicURL("uploads/my photo.png"))
	assert.Equal(t, "https://cdn.local/public/a%3Fb", b.PublicURL("/a?b"))
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads", "a.png"), []byte("png"), 0o644))

	s := NewLocalStore(root)
	assert.True(t, s.Exists("uploads/a.png"))
	assert.False(t, s.Exists("uploads"))
	assert.False(t, s.Exists("../a.png"))

	p, err := s.Path("uploads/a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "a.png"), p)
}

func TestFallback(t *testing.T) {
	now := time.Now()
	repo := memoryAssets{
		"pub":  {ID: "pub", StorageKey: "uploads/pub.png", Access: asset.AccessPublic},
		"priv": {ID: "priv", StorageKey: "uploads/priv.png", Access: asset.AccessPrivate},
		"rest": {ID: "rest", StorageKey: "uploads/rest.png", Access: asset.AccessRestricted},
		"gone": {ID: "gone", StorageKey: "uploads/gone.png", Access: asset.AccessPublic, DeletedAt: &now},
	}
	fallback := Fallback(repo, NewPublicURLBuilder("https://cdn.local"))
	ctx := context.Background()

	u, err := fallback(ctx, signedurl.Ref{AssetID: "pub"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.local/public/uploads/pub.png", u)

	u, err = fallback(ctx, signedurl.Ref{StorageKey: "uploads/priv.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.local/public/uploads/priv.png", u)

	for _, ref := range []signedurl.Ref{{AssetID: "rest"}, {AssetID: "gone"}, {AssetID: "missing"}, {StorageKey: "nowhere"}} {
		_, err = fallback(ctx, ref)
		assert.ErrorIs(t, err, ErrNoPublicURL, ref.String())
	}

	_, err = fallback(ctx, signedurl.Ref{})
	assert.ErrorIs(t, err, signedurl.ErrMissingRef)
}
