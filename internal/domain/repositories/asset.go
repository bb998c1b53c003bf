// Package repositories defines the repository interfaces for domain entities.
// These repositories abstract the data persistence details, ensuring the core
// application is clean and decoupled from the database.
package repositories

import (
	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
)

// AssetRepository returns nil, nil when a lookup finds nothing.
type AssetRepository interface {
	FindByID(id string) (*asset.Asset, error)
	FindByStorageKey(storageKey string) (*asset.Asset, error)
	FindAll(includeDeleted bool) ([]*asset.Asset, error)
	Store(a *asset.Asset) error
	SoftDelete(id string) (*asset.Asset, error)
}
