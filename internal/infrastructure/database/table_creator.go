// Package database provides schema creation for the asset store
package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the asset store schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
// Every statement is idempotent.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// TableExists reports whether the named table is present
func (tc *TableCreator) TableExists(db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", name, err)
	}
	return count > 0, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		storage_key TEXT NOT NULL UNIQUE,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		size INTEGER NOT NULL DEFAULT 0,
		access TEXT NOT NULL DEFAULT 'private' CHECK (access IN ('public', 'private', 'restricted')),
		created_at TEXT NOT NULL,
		deleted_at TEXT
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_assets_deleted_at ON assets(deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at)`,
}
