// Package assets provides the asset record repository
package assets

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/domain/entities/asset"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/persistence/database"
)

// ErrDuplicateStorageKey is returned when another asset already owns the key.
var ErrDuplicateStorageKey = errors.New("asset with this storage key already exists")

const selectColumns = `SELECT id, storage_key, content_type, size, access, created_at, deleted_at FROM assets`

// Timestamps are stored as RFC3339 text so sqlite3 and libsql read them back alike.
const timeLayout = time.RFC3339Nano

type AssetRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewAssetRepository(db *sql.DB, logger *logging.ChanneledLogger) *AssetRepository {
	return &AssetRepository{
		db:     db,
		logger: logging.OrNop(logger),
	}
}

func (r *AssetRepository) FindByID(id string) (*asset.Asset, error) {
	return r.findOne("FIND_ASSET_BY_ID", selectColumns+` WHERE id = ?`, id)
}

func (r *AssetRepository) FindByStorageKey(storageKey string) (*asset.Asset, error) {
	return r.findOne("FIND_ASSET_BY_STORAGE_KEY", selectColumns+` WHERE storage_key = ?`, storageKey)
}

func (r *AssetRepository) FindAll(includeDeleted bool) ([]*asset.Asset, error) {
	start := time.Now()
	query := selectColumns
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}

	database.CheckAndLogSlowQuery(r.logger, "FIND_ALL_ASSETS", time.Since(start))
	return assets, nil
}

func (r *AssetRepository) Store(a *asset.Asset) error {
	start := time.Now()

	existing, err := r.FindByStorageKey(a.StorageKey)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != a.ID {
		return ErrDuplicateStorageKey
	}

	var deletedAt any
	if a.DeletedAt != nil {
		deletedAt = a.DeletedAt.UTC().Format(timeLayout)
	}

	_, err = r.db.Exec(`INSERT INTO assets (id, storage_key, content_type, size, access, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			storage_key = excluded.storage_key,
			content_type = excluded.content_type,
			size = excluded.size,
			access = excluded.access,
			deleted_at = excluded.deleted_at`,
		a.ID, a.StorageKey, a.ContentType, a.Size, string(a.Access), a.CreatedAt.UTC().Format(timeLayout), deletedAt)
	if err != nil {
		return fmt.Errorf("failed to store asset %s: %w", a.ID, err)
	}

	database.CheckAndLogSlowQuery(r.logger, "STORE_ASSET", time.Since(start))
	r.logger.Database().Debug("Stored asset", "id", a.ID, "storageKey", a.StorageKey)
	return nil
}

// SoftDelete marks the asset deleted and returns it, or nil when no live
// asset has that id.
func (r *AssetRepository) SoftDelete(id string) (*asset.Asset, error) {
	start := time.Now()
	now := time.Now().UTC()

	res, err := r.db.Exec(`UPDATE assets SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now.Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete asset %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to delete asset %s: %w", id, err)
	}
	database.CheckAndLogSlowQuery(r.logger, "SOFT_DELETE_ASSET", time.Since(start))

	if affected == 0 {
		return nil, nil
	}
	return r.FindByID(id)
}

func (r *AssetRepository) findOne(label, query, arg string) (*asset.Asset, error) {
	start := time.Now()
	a, err := scanAsset(r.db.QueryRow(query, arg))
	database.CheckAndLogSlowQuery(r.logger, label, time.Since(start))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*asset.Asset, error) {
	var (
		a         asset.Asset
		access    string
		createdAt string
		deletedAt sql.NullString
	)
	if err := row.Scan(&a.ID, &a.StorageKey, &a.ContentType, &a.Size, &access, &createdAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}

	a.Access = asset.Access(access)

	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for asset %s: %w", a.ID, err)
	}
	a.CreatedAt = created

	if deletedAt.Valid {
		deleted, err := time.Parse(timeLayout, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deleted_at for asset %s: %w", a.ID, err)
		}
		a.DeletedAt = &deleted
	}

	return &a, nil
}
