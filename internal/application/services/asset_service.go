package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/domain/repositories"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/security"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/storage"
)

var ErrInvalidAsset = errors.New("invalid asset")

// Invalidator drops cached URLs for an asset. *signedurl.Cache satisfies it.
type Invalidator interface {
	Invalidate(ref signedurl.Ref) bool
}

type RegisterAssetRequest struct {
	StorageKey  string `json:"storageKey"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Access      string `json:"access"`
}

// AssetService registers and retires asset records, keeping cached URLs in step.
type AssetService struct {
	assets repositories.AssetRepository
	cache  Invalidator
	logger *logging.ChanneledLogger
}

func NewAssetService(assets repositories.AssetRepository, cache Invalidator, logger *logging.ChanneledLogger) *AssetService {
	return &AssetService{
		assets: assets,
		cache:  cache,
		logger: logging.OrNop(logger),
	}
}

func (s *AssetService) Register(req RegisterAssetRequest) (*asset.Asset, error) {
	key, err := storage.CleanKey(req.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	access, err := asset.ParseAccess(req.Access)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if req.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidAsset)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	a := &asset.Asset{
		ID:          security.GenerateULID(),
		StorageKey:  key,
		ContentType: contentType,
		Size:        req.Size,
		Access:      access,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.assets.Store(a); err != nil {
		return nil, err
	}

	// A previously cached URL for this key may predate the registration.
	s.invalidate(signedurl.Ref{StorageKey: key})
	s.logger.Signing().Info("Registered asset", "assetId", a.ID, "storageKey", key, "access", string(access))
	return a, nil
}

func (s *AssetService) GetAll() ([]*asset.Asset, error) {
	return s.assets.FindAll(false)
}

// Delete soft-deletes the asset and drops its cached URLs under both keys.
func (s *AssetService) Delete(id string) (*asset.Asset, error) {
	a, err := s.assets.SoftDelete(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssetNotFound
	}

	s.invalidate(signedurl.Ref{AssetID: a.ID})
	s.invalidate(signedurl.Ref{StorageKey: a.StorageKey})
	s.logger.Signing().Info("Deleted asset", "assetId", a.ID, "storageKey", a.StorageKey)
	return a, nil
}

func (s *AssetService) invalidate(ref signedurl.Ref) {
	if s.cache != nil {
		s.cache.Invalidate(ref)
	}
}
