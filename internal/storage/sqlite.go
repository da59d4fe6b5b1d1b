package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"kufarwatch/internal/model"
	"kufarwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db, "sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSearch inserts a new search and populates its ID and CreatedAt.
func (s *SQLite) CreateSearch(ctx context.Context, sr *model.Search) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO searches (name, url, telegram_chat_id, telegram_thread_id, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sr.Name, sr.URL, sr.TelegramChatID, sr.TelegramThreadID, boolToInt(sr.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sr.ID = id
	sr.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSearch returns a single search by its ID.
func (s *SQLite) GetSearch(ctx context.Context, id int64) (*model.Search, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches WHERE id = ?`, id,
	)
	return scanSearch(row)
}

// ListSearches returns all saved searches ordered by id.
func (s *SQLite) ListSearches(ctx context.Context) ([]model.Search, error) {
	return s.querySearches(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches ORDER BY id`)
}

// ListActiveSearches returns all searches eligible for scanning.
func (s *SQLite) ListActiveSearches(ctx context.Context) ([]model.Search, error) {
	return s.querySearches(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches WHERE is_active = 1 ORDER BY id`)
}

func (s *SQLite) querySearches(ctx context.Context, query string) ([]model.Search, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var searches []model.Search
	for rows.Next() {
		sr, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		searches = append(searches, *sr)
	}
	return searches, rows.Err()
}

// UpdateSearch persists changes to an existing search.
func (s *SQLite) UpdateSearch(ctx context.Context, sr *model.Search) error {
	var lastScan *string
	if sr.LastScanAt != nil {
		v := sr.LastScanAt.UTC().Format(timeLayout)
		lastScan = &v
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE searches SET name = ?, url = ?, telegram_chat_id = ?, telegram_thread_id = ?, is_active = ?, last_scan_at = ?
		 WHERE id = ?`,
		sr.Name, sr.URL, sr.TelegramChatID, sr.TelegramThreadID, boolToInt(sr.IsActive), lastScan, sr.ID,
	)
	if err != nil {
		return fmt.Errorf("update search: %w", err)
	}
	return nil
}

// DeleteSearch removes a search and its stored items.
func (s *SQLite) DeleteSearch(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE search_id = ?`, id); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM searches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete search: %w", err)
	}
	return tx.Commit()
}

// AdvanceScanTime moves last_scan_at forward, never backwards.
func (s *SQLite) AdvanceScanTime(ctx context.Context, id int64, t time.Time) error {
	v := t.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE searches SET last_scan_at = ?
		 WHERE id = ? AND (last_scan_at IS NULL OR last_scan_at <= ?)`,
		v, id, v,
	)
	if err != nil {
		return fmt.Errorf("advance scan time: %w", err)
	}
	return nil
}

// InsertItemIfAbsent inserts a listing unless its Kufar id is already
// stored. The uniqueness constraint on kufar_id makes the check-and-insert
// a single statement, safe under concurrent callers.
func (s *SQLite) InsertItemIfAbsent(ctx context.Context, listing model.Listing, searchID int64) (*model.Item, bool, error) {
	images, err := json.Marshal(listing.Images)
	if err != nil {
		return nil, false, fmt.Errorf("marshal images: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items
		   (kufar_id, search_id, title, price, currency, description, location, size,
		    seller_name, seller_phone, url, images, raw_data, delivered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		listing.KufarID, searchID, listing.Title, listing.Price, listing.Currency,
		listing.Description, listing.Location, listing.Size,
		listing.SellerName, listing.SellerPhone, listing.URL, string(images), listing.RawData, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	item, err := s.getItemByKufarID(ctx, listing.KufarID)
	if err != nil {
		return nil, false, err
	}
	return item, n > 0, nil
}

func (s *SQLite) getItemByKufarID(ctx context.Context, kufarID string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kufar_id, search_id, title, price, currency, description, location, size,
		        seller_name, seller_phone, url, images, raw_data, delivered, created_at
		 FROM items WHERE kufar_id = ?`, kufarID,
	)
	return scanItem(row)
}

// MarkDelivered flips an item's delivered flag after a confirmed send.
func (s *SQLite) MarkDelivered(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE items SET delivered = 1 WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// UnsentItems returns undelivered items joined with their search's routing
// data, oldest first.
func (s *SQLite) UnsentItems(ctx context.Context) ([]model.UnsentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.kufar_id, i.search_id, i.title, i.price, i.currency, i.description,
		        i.location, i.size, i.seller_name, i.seller_phone, i.url, i.images, i.raw_data,
		        i.delivered, i.created_at,
		        s.name, s.telegram_chat_id, s.telegram_thread_id
		 FROM items i
		 JOIN searches s ON i.search_id = s.id
		 WHERE i.delivered = 0
		 ORDER BY i.created_at, i.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query unsent items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.UnsentItem
	for rows.Next() {
		var u model.UnsentItem
		var delivered int
		var imagesJSON, created string
		err := rows.Scan(&u.ID, &u.KufarID, &u.SearchID, &u.Title, &u.Price, &u.Currency,
			&u.Description, &u.Location, &u.Size, &u.SellerName, &u.SellerPhone, &u.URL,
			&imagesJSON, &u.RawData, &delivered, &created,
			&u.SearchName, &u.TelegramChatID, &u.TelegramThreadID)
		if err != nil {
			return nil, fmt.Errorf("scan unsent item: %w", err)
		}
		u.Delivered = delivered == 1
		u.CreatedAt, _ = time.Parse(timeLayout, created)
		_ = json.Unmarshal([]byte(imagesJSON), &u.Images)
		items = append(items, u)
	}
	return items, rows.Err()
}

// LookupSetting returns an operator-set configuration value.
func (s *SQLite) LookupSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup setting: %w", err)
	}
	return value, true, nil
}

// PutSetting creates or replaces an operator setting.
func (s *SQLite) PutSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSearch(row scannable) (*model.Search, error) {
	var sr model.Search
	var isActive int
	var lastScan, created sql.NullString
	err := row.Scan(&sr.ID, &sr.Name, &sr.URL, &sr.TelegramChatID, &sr.TelegramThreadID, &isActive, &lastScan, &created)
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}
	sr.IsActive = isActive == 1
	if lastScan.Valid {
		t, _ := time.Parse(timeLayout, lastScan.String)
		sr.LastScanAt = &t
	}
	if created.Valid {
		sr.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sr, nil
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var delivered int
	var imagesJSON, created string
	err := row.Scan(&it.ID, &it.KufarID, &it.SearchID, &it.Title, &it.Price, &it.Currency,
		&it.Description, &it.Location, &it.Size, &it.SellerName, &it.SellerPhone, &it.URL,
		&imagesJSON, &it.RawData, &delivered, &created)
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Delivered = delivered == 1
	it.CreatedAt, _ = time.Parse(timeLayout, created)
	_ = json.Unmarshal([]byte(imagesJSON), &it.Images)
	return &it, nil
}
