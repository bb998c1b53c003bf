// Package services provides application-level services that orchestrate
// business logic and coordinate between repositories and domain entities.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/domain/repositories"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/security"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/storage"
)

var (
	ErrMissingLocator = errors.New("either assetId or storageKey must be provided")
	ErrAssetNotFound  = errors.New("asset not found")
	ErrAssetForbidden = errors.New("access to asset denied")
)

// SigningConfig holds the issuing parameters for file URLs.
type SigningConfig struct {
	BaseURL    string
	Secret     string
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
}

type SignRequest struct {
	AssetID    string
	StorageKey string
	TTL        time.Duration
}

// SignResult is the sign endpoint payload.
type SignResult struct {
	URL              string    `json:"url"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// SigningService issues short-lived tokenised file URLs for registered assets.
type SigningService struct {
	assets repositories.AssetRepository
	config SigningConfig
	logger *logging.ChanneledLogger
	perf   *performance.Tracker
}

func NewSigningService(assets repositories.AssetRepository, config SigningConfig, logger *logging.ChanneledLogger, perf *performance.Tracker) *SigningService {
	if perf == nil {
		perf = performance.NewTracker(performance.DefaultTrackerConfig())
	}
	return &SigningService{
		assets: assets,
		config: config,
		logger: logging.OrNop(logger),
		perf:   perf,
	}
}

// Sign looks the asset up and issues a URL valid for the clamped TTL. When
// both locators are given the asset id decides.
func (s *SigningService) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	marker := s.perf.StartOperation("sign_url")
	defer marker.Complete()

	result, err := s.sign(ctx, req)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	marker.SetSuccess(true)
	return result, nil
}

func (s *SigningService) sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a, err := s.lookup(req)
	if err != nil {
		return nil, err
	}

	ttl := s.ClampTTL(req.TTL)
	token, expiresAt, err := security.SignFileToken(a.StorageKey, ttl, s.config.Secret)
	if err != nil {
		s.logger.Signing().Error("Failed to sign file token", "assetId", a.ID, "error", err.Error())
		return nil, fmt.Errorf("failed to sign URL for asset %s: %w", a.ID, err)
	}

	s.logger.Signing().Debug("Issued signed URL", "assetId", a.ID, "storageKey", a.StorageKey, "ttl", ttl)
	return &SignResult{
		URL:              s.FileURL(a.StorageKey, token),
		ExpiresInSeconds: int64(ttl / time.Second),
		ExpiresAt:        expiresAt,
	}, nil
}

func (s *SigningService) lookup(req SignRequest) (*asset.Asset, error) {
	var (
		a   *asset.Asset
		err error
	)
	switch {
	case req.AssetID != "":
		a, err = s.assets.FindByID(req.AssetID)
	case req.StorageKey != "":
		key, cleanErr := storage.CleanKey(req.StorageKey)
		if cleanErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingLocator, cleanErr)
		}
		a, err = s.assets.FindByStorageKey(key)
	default:
		return nil, ErrMissingLocator
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	if a == nil || a.Deleted() {
		return nil, ErrAssetNotFound
	}
	if !a.Signable() {
		s.logger.Signing().Warn("Refused to sign restricted asset", "assetId", a.ID)
		return nil, ErrAssetForbidden
	}
	return a, nil
}

// ClampTTL applies the default to a zero TTL and bounds the result.
func (s *SigningService) ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	if s.config.MinTTL > 0 && ttl < s.config.MinTTL {
		ttl = s.config.MinTTL
	}
	if s.config.MaxTTL > 0 && ttl > s.config.MaxTTL {
		ttl = s.config.MaxTTL
	}
	return ttl
}

// FileURL returns the tokenised URL served by the files route
func (s *SigningService) FileURL(storageKey, token string) string {
	return s.config.BaseURL + "/files/" + storage.EscapeKey(storageKey) + "?token=" + token
}

// ValidateFileToken checks a token presented on the files route.
func (s *SigningService) ValidateFileToken(token, storageKey string) error {
	_, err := security.ValidateFileToken(token, storageKey, s.config.Secret)
	return err
}
