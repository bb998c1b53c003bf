package services

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/security"
)

type memoryRepo struct {
	byID map[string]*asset.Asset
}

func newMemoryRepo(assets ...*asset.Asset) *memoryRepo {
	r := &memoryRepo{byID: make(map[string]*asset.Asset)}
	for _, a := range assets {
		r.byID[a.ID] = a
	}
	return r
}

func (r *memoryRepo) FindByID(id string) (*asset.Asset, error) { return r.byID[id], nil }

func (r *memoryRepo) FindByStorageKey(key string) (*asset.Asset, error) {
	for _, a := range r.byID {
		if a.StorageKey == key {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) FindAll(includeDeleted bool) ([]*asset.Asset, error) {
	var out []*asset.Asset
	for _, a := range r.byID {
		if includeDeleted || !a.Deleted() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) Store(a *asset.Asset) error {
	r.byID[a.ID] = a
	return nil
}

func (r *memoryRepo) SoftDelete(id string) (*asset.Asset, error) {
	a := r.byID[id]
	if a == nil || a.Deleted() {
		return nil, nil
	}
	now := time.Now()
	a.DeletedAt = &now
	return a, nil
}

type recordingInvalidator struct {
	refs []signedurl.Ref
}

func (r *recordingInvalidator) Invalidate(ref signedurl.Ref) bool {
	r.refs = append(r.refs, ref)
	return true
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newSigner(repo *memoryRepo) *SigningService {
	return NewSigningService(repo, SigningConfig{
		BaseURL:    "https://assets.local",
		Secret:     testSecret,
		DefaultTTL: time.Hour,
		MinTTL:     time.Minute,
		MaxTTL:     24 * time.Hour,
	}, nil, nil)
}

func TestSigningService_Sign(t *testing.T) {
	a := &asset.Asset{ID: "01HZX", StorageKey: "uploads/my photo.png", Access: asset.AccessPrivate}
	s := newSigner(newMemoryRepo(a))

	for _, req := range []SignRequest{
		{AssetID: "01HZX", TTL: 2 * time.Hour},
		{StorageKey: "uploads/my photo.png", TTL: 2 * time.Hour},
		{AssetID: "01HZX", StorageKey: "ignored", TTL: 2 * time.Hour},
	} {
		res, err := s.Sign(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, int64(7200), res.ExpiresInSeconds)

		u, err := url.Parse(res.URL)
		require.NoError(t, err)
		assert.Equal(t, "/files/uploads/my photo.png", u.Path)
		assert.True(t, strings.HasPrefix(res.URL, "https://assets.local/files/uploads/my%20photo.png?token="))

		_, err = security.ValidateFileToken(u.Query().Get("token"), a.StorageKey, testSecret)
		assert.NoError(t, err)
		assert.NoError(t, s.ValidateFileToken(u.Query().Get("token"), a.StorageKey))
	}
}

func TestSigningService_Errors(t *testing.T) {
	now := time.Now()
	s := newSigner(newMemoryRepo(
		&asset.Asset{ID: "restricted", StorageKey: "r.png", Access: asset.AccessRestricted},
		&asset.Asset{ID: "deleted", StorageKey: "d.png", Access: asset.AccessPublic, DeletedAt: &now},
	))
	ctx := context.Background()

	_, err := s.Sign(ctx, SignRequest{})
	assert.ErrorIs(t, err, ErrMissingLocator)

	_, err = s.Sign(ctx, SignRequest{AssetID: "missing"})
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = s.Sign(ctx, SignRequest{AssetID: "deleted"})
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = s.Sign(ctx, SignRequest{StorageKey: "r.png"})
	assert.ErrorIs(t, err, ErrAssetForbidden)

	_, err = s.Sign(ctx, SignRequest{StorageKey: "../etc/passwd"})
	assert.ErrorIs(t, err, ErrMissingLocator)
}

func TestSigningService_ClampTTL(t *testing.T) {
	s := newSigner(newMemoryRepo())

	assert.Equal(t, time.Hour, s.ClampTTL(0))
	assert.Equal(t, time.Minute, s.ClampTTL(time.Second))
	assert.Equal(t, 24*time.Hour, s.ClampTTL(30*24*time.Hour))
	assert.Equal(t, 5*time.Minute, s.ClampTTL(5*time.Minute))
}

func TestAssetService_RegisterAndDelete(t *testing.T) {
	repo := newMemoryRepo()
	inv := &recordingInvalidator{}
	s := NewAssetService(repo, inv, nil)

	a, err := s.Register(RegisterAssetRequest{StorageKey: "/uploads/a.png", Access: "public"})
	require.NoError(t, err)
	assert.True(t, security.IsULID(a.ID))
	assert.Equal(t, "uploads/a.png", a.StorageKey)
	assert.Equal(t, "application/octet-stream", a.ContentType)
	assert.Equal(t, []signedurl.Ref{{StorageKey: "uploads/a.png"}}, inv.refs)

	all, err := s.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	inv.refs = nil
	deleted, err := s.Delete(a.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())
	assert.ElementsMatch(t, []signedurl.Ref{{AssetID: a.ID}, {StorageKey: "uploads/a.png"}}, inv.refs)

	_, err = s.Delete(a.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestAssetService_RegisterValidation(t *testing.T) {
	s := NewAssetService(newMemoryRepo(), nil, nil)

	_, err := s.Register(RegisterAssetRequest{StorageKey: "../x"})
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, err = s.Register(RegisterAssetRequest{StorageKey: "a.png", Access: "secret"})
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, err = s.Register(RegisterAssetRequest{StorageKey: "a.png", Size: -1})
	assert.ErrorIs(t, err, ErrInvalidAsset)
}
