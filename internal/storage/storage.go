// Package storage defines the persistence interface and its implementations.
//
// Two backends exist: an embedded SQLite database for local use and a
// PostgreSQL database for hosted deployments. The backend is selected by
// the DSN scheme; no other code branches on which one is active.
package storage

import (
	"context"
	"strings"
	"time"

	"kufarwatch/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// Search CRUD. Create/Update/Delete are driven by the external admin
	// surface; the scanner only reads and advances scan times.
	CreateSearch(ctx context.Context, s *model.Search) error
	GetSearch(ctx context.Context, id int64) (*model.Search, error)
	ListSearches(ctx context.Context) ([]model.Search, error)
	ListActiveSearches(ctx context.Context) ([]model.Search, error)
	UpdateSearch(ctx context.Context, s *model.Search) error
	DeleteSearch(ctx context.Context, id int64) error

	// AdvanceScanTime moves a search's last_scan_at forward. Attempts to
	// move it backwards are ignored, keeping the column non-decreasing.
	AdvanceScanTime(ctx context.Context, id int64, t time.Time) error

	// InsertItemIfAbsent atomically persists a listing keyed by its Kufar
	// id. When an item with the same key already exists, the stored item
	// is returned with isNew == false and nothing is written.
	InsertItemIfAbsent(ctx context.Context, listing model.Listing, searchID int64) (item *model.Item, isNew bool, err error)
	MarkDelivered(ctx context.Context, itemID int64) error
	UnsentItems(ctx context.Context) ([]model.UnsentItem, error)

	// Operator settings, overriding environment defaults.
	LookupSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}

// Open selects a backend by DSN scheme: postgres:// (or postgresql://)
// opens PostgreSQL, anything else is treated as a SQLite path, with an
// optional sqlite: prefix.
func Open(ctx context.Context, dsn string) (Storage, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgres(ctx, dsn)
	}
	return NewSQLite(strings.TrimPrefix(dsn, "sqlite:"))
}
