package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"kufarwatch/internal/model"
	"kufarwatch/migrations"
)

// Postgres implements Storage backed by a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := migrations.Run(db, "postgres"); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	_ = db.Close()

	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateSearch inserts a new search and populates its ID and CreatedAt.
func (p *Postgres) CreateSearch(ctx context.Context, sr *model.Search) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO searches (name, url, telegram_chat_id, telegram_thread_id, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		sr.Name, sr.URL, sr.TelegramChatID, sr.TelegramThreadID, sr.IsActive,
	).Scan(&sr.ID, &sr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	return nil
}

// GetSearch returns a single search by its ID.
func (p *Postgres) GetSearch(ctx context.Context, id int64) (*model.Search, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches WHERE id = $1`, id,
	)
	return scanPgSearch(row)
}

// ListSearches returns all saved searches ordered by id.
func (p *Postgres) ListSearches(ctx context.Context) ([]model.Search, error) {
	return p.querySearches(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches ORDER BY id`)
}

// ListActiveSearches returns all searches eligible for scanning.
func (p *Postgres) ListActiveSearches(ctx context.Context) ([]model.Search, error) {
	return p.querySearches(ctx,
		`SELECT id, name, url, telegram_chat_id, telegram_thread_id, is_active, last_scan_at, created_at
		 FROM searches WHERE is_active ORDER BY id`)
}

func (p *Postgres) querySearches(ctx context.Context, query string) ([]model.Search, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	var searches []model.Search
	for rows.Next() {
		sr, err := scanPgSearch(rows)
		if err != nil {
			return nil, err
		}
		searches = append(searches, *sr)
	}
	return searches, rows.Err()
}

// UpdateSearch persists changes to an existing search.
func (p *Postgres) UpdateSearch(ctx context.Context, sr *model.Search) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE searches SET name = $1, url = $2, telegram_chat_id = $3, telegram_thread_id = $4,
		        is_active = $5, last_scan_at = $6
		 WHERE id = $7`,
		sr.Name, sr.URL, sr.TelegramChatID, sr.TelegramThreadID, sr.IsActive, sr.LastScanAt, sr.ID,
	)
	if err != nil {
		return fmt.Errorf("update search: %w", err)
	}
	return nil
}

// DeleteSearch removes a search and its stored items.
func (p *Postgres) DeleteSearch(ctx context.Context, id int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM items WHERE search_id = $1`, id); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM searches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete search: %w", err)
	}
	return tx.Commit(ctx)
}

// AdvanceScanTime moves last_scan_at forward, never backwards.
func (p *Postgres) AdvanceScanTime(ctx context.Context, id int64, t time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE searches SET last_scan_at = $1
		 WHERE id = $2 AND (last_scan_at IS NULL OR last_scan_at <= $1)`,
		t.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("advance scan time: %w", err)
	}
	return nil
}

// InsertItemIfAbsent inserts a listing unless its Kufar id is already
// stored, relying on ON CONFLICT DO NOTHING for atomicity.
func (p *Postgres) InsertItemIfAbsent(ctx context.Context, listing model.Listing, searchID int64) (*model.Item, bool, error) {
	images, err := json.Marshal(listing.Images)
	if err != nil {
		return nil, false, fmt.Errorf("marshal images: %w", err)
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO items
		   (kufar_id, search_id, title, price, currency, description, location, size,
		    seller_name, seller_phone, url, images, raw_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (kufar_id) DO NOTHING
		 RETURNING id`,
		listing.KufarID, searchID, listing.Title, listing.Price, listing.Currency,
		listing.Description, listing.Location, listing.Size,
		listing.SellerName, listing.SellerPhone, listing.URL, string(images), listing.RawData,
	).Scan(&id)

	isNew := true
	if errors.Is(err, pgx.ErrNoRows) {
		isNew = false
	} else if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	item, err := p.getItemByKufarID(ctx, listing.KufarID)
	if err != nil {
		return nil, false, err
	}
	return item, isNew, nil
}

func (p *Postgres) getItemByKufarID(ctx context.Context, kufarID string) (*model.Item, error) {
	var it model.Item
	var imagesJSON string
	err := p.pool.QueryRow(ctx,
		`SELECT id, kufar_id, search_id, title, price, currency, description, location, size,
		        seller_name, seller_phone, url, images, raw_data, delivered, created_at
		 FROM items WHERE kufar_id = $1`, kufarID,
	).Scan(&it.ID, &it.KufarID, &it.SearchID, &it.Title, &it.Price, &it.Currency,
		&it.Description, &it.Location, &it.Size, &it.SellerName, &it.SellerPhone, &it.URL,
		&imagesJSON, &it.RawData, &it.Delivered, &it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	_ = json.Unmarshal([]byte(imagesJSON), &it.Images)
	return &it, nil
}

// MarkDelivered flips an item's delivered flag after a confirmed send.
func (p *Postgres) MarkDelivered(ctx context.Context, itemID int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE items SET delivered = TRUE WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// UnsentItems returns undelivered items joined with their search's routing
// data, oldest first.
func (p *Postgres) UnsentItems(ctx context.Context) ([]model.UnsentItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT i.id, i.kufar_id, i.search_id, i.title, i.price, i.currency, i.description,
		        i.location, i.size, i.seller_name, i.seller_phone, i.url, i.images, i.raw_data,
		        i.delivered, i.created_at,
		        s.name, s.telegram_chat_id, s.telegram_thread_id
		 FROM items i
		 JOIN searches s ON i.search_id = s.id
		 WHERE NOT i.delivered
		 ORDER BY i.created_at, i.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query unsent items: %w", err)
	}
	defer rows.Close()

	var items []model.UnsentItem
	for rows.Next() {
		var u model.UnsentItem
		var imagesJSON string
		err := rows.Scan(&u.ID, &u.KufarID, &u.SearchID, &u.Title, &u.Price, &u.Currency,
			&u.Description, &u.Location, &u.Size, &u.SellerName, &u.SellerPhone, &u.URL,
			&imagesJSON, &u.RawData, &u.Delivered, &u.CreatedAt,
			&u.SearchName, &u.TelegramChatID, &u.TelegramThreadID)
		if err != nil {
			return nil, fmt.Errorf("scan unsent item: %w", err)
		}
		_ = json.Unmarshal([]byte(imagesJSON), &u.Images)
		items = append(items, u)
	}
	return items, rows.Err()
}

// LookupSetting returns an operator-set configuration value.
func (p *Postgres) LookupSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup setting: %w", err)
	}
	return value, true, nil
}

// PutSetting creates or replaces an operator setting.
func (p *Postgres) PutSetting(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgSearch(row pgScannable) (*model.Search, error) {
	var sr model.Search
	var lastScan *time.Time
	err := row.Scan(&sr.ID, &sr.Name, &sr.URL, &sr.TelegramChatID, &sr.TelegramThreadID,
		&sr.IsActive, &lastScan, &sr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}
	sr.LastScanAt = lastScan
	return &sr, nil
}
