// Package postgres provides the Postgres-backed catalog.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/release-notifier/internal/catalog"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store persists the catalog mirror in Postgres.
type Store struct {
	pool pool
}

// NewStore applies migrations when requested and opens a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Migrate {
		if _, _, err := RunMigrations(cfg.DSN); err != nil {
			return nil, err
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// UpsertItem inserts the item or refreshes title/image of the existing row.
func (s *Store) UpsertItem(ctx context.Context, title, image, url string) (int64, error) {
	const query = `
INSERT INTO items (title, image, url)
VALUES ($1, $2, $3)
ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title, image = EXCLUDED.image
RETURNING id`
	var id int64
	if err := s.pool.QueryRow(ctx, query, title, image, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert item: %w", translate(err))
	}
	return id, nil
}

// FindItemByURL resolves an item id by canonical URL.
func (s *Store) FindItemByURL(ctx context.Context, url string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM items WHERE url = $1`, url).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("find item: %w", translate(err))
	}
	return id, nil
}

// GetItemTitle returns the stored title.
func (s *Store) GetItemTitle(ctx context.Context, itemID int64) (string, error) {
	var title string
	err := s.pool.QueryRow(ctx, `SELECT title FROM items WHERE id = $1`, itemID).Scan(&title)
	if err != nil {
		return "", fmt.Errorf("get item title: %w", translate(err))
	}
	return title, nil
}

// GetItemImage returns the stored image URL.
func (s *Store) GetItemImage(ctx context.Context, itemID int64) (string, error) {
	var image string
	err := s.pool.QueryRow(ctx, `SELECT image FROM items WHERE id = $1`, itemID).Scan(&image)
	if err != nil {
		return "", fmt.Errorf("get item image: %w", translate(err))
	}
	return image, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, image, url FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var item catalog.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Image, &item.URL); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// EpisodeExists reports whether hash was recorded.
func (s *Store) EpisodeExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM episodes WHERE hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check episode: %w", err)
	}
	return exists, nil
}

// RecordEpisodes inserts the batch in one transaction, skipping rows that already exist.
func (s *Store) RecordEpisodes(ctx context.Context, episodes []catalog.Episode) (committed []catalog.Episode, err error) {
	if len(episodes) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin episodes tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `
INSERT INTO episodes (hash, item_id, url)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`
	committed = make([]catalog.Episode, 0, len(episodes))
	for _, ep := range episodes {
		tag, execErr := tx.Exec(ctx, query, ep.Hash, ep.ItemID, ep.URL)
		if execErr != nil {
			return nil, fmt.Errorf("insert episode %s: %w", ep.Hash, translate(execErr))
		}
		if tag.RowsAffected() == 1 {
			committed = append(committed, ep)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit episodes: %w", err)
	}
	return committed, nil
}

// ListSubscribers returns subscribers of itemID in ascending order.
func (s *Store) ListSubscribers(ctx context.Context, itemID int64) ([]catalog.SubscriberID, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM subscriptions WHERE item_id = $1 ORDER BY user_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []catalog.SubscriberID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, catalog.SubscriberID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// Subscribe registers the subscriber and links it to itemID.
func (s *Store) Subscribe(ctx context.Context, subscriber catalog.SubscriberID, itemID int64) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin subscribe tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT DO NOTHING`, int64(subscriber)); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO subscriptions (user_id, item_id) VALUES ($1, $2)`, int64(subscriber), itemID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("subscribe item %d: %w", itemID, catalog.ErrNotFound)
		}
		return fmt.Errorf("subscribe item %d: %w", itemID, translate(err))
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subscribe: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation, foreignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, catalog.ErrConflict)
		}
	}
	return err
}

var _ catalog.Store = (*Store)(nil)
