// Package sqlite provides a single-file catalog.Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlitedriver "modernc.org/sqlite"

	"github.com/JakeFAU/release-notifier/internal/catalog"
)

// Extended result codes from sqlite3.h.
const (
	constraint           = 19
	constraintForeignKey = 787
	constraintPrimaryKey = 1555
	constraintUnique     = 2067
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    image TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash TEXT NOT NULL UNIQUE,
    item_id INTEGER NOT NULL REFERENCES items (id),
    url TEXT NOT NULL UNIQUE,
    recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users (id),
    item_id INTEGER NOT NULL REFERENCES items (id),
    UNIQUE (user_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_episodes_item_id ON episodes (item_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_item_id ON subscriptions (item_id);
`

// Store persists the catalog mirror in a SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// UpsertItem inserts the item or refreshes title/image of the existing row.
func (s *Store) UpsertItem(ctx context.Context, title, image, url string) (int64, error) {
	const query = `
INSERT INTO items (title, image, url)
VALUES (?, ?, ?)
ON CONFLICT (url) DO UPDATE SET title = excluded.title, image = excluded.image
RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, query, title, image, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert item: %w", translate(err))
	}
	return id, nil
}

// FindItemByURL resolves an item id by canonical URL.
func (s *Store) FindItemByURL(ctx context.Context, url string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE url = ?`, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("find item: %w", translate(err))
	}
	return id, nil
}

// GetItemTitle returns the stored title.
func (s *Store) GetItemTitle(ctx context.Context, itemID int64) (string, error) {
	var title string
	if err := s.db.QueryRowContext(ctx, `SELECT title FROM items WHERE id = ?`, itemID).Scan(&title); err != nil {
		return "", fmt.Errorf("get item title: %w", translate(err))
	}
	return title, nil
}

// GetItemImage returns the stored image URL.
func (s *Store) GetItemImage(ctx context.Context, itemID int64) (string, error) {
	var image string
	if err := s.db.QueryRowContext(ctx, `SELECT image FROM items WHERE id = ?`, itemID).Scan(&image); err != nil {
		return "", fmt.Errorf("get item image: %w", translate(err))
	}
	return image, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, image, url FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

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
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM episodes WHERE hash = ?)`, hash).Scan(&exists)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin episodes tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO episodes (hash, item_id, url) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("prepare episode insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	committed = make([]catalog.Episode, 0, len(episodes))
	for _, ep := range episodes {
		res, execErr := stmt.ExecContext(ctx, ep.Hash, ep.ItemID, ep.URL)
		if execErr != nil {
			return nil, fmt.Errorf("insert episode %s: %w", ep.Hash, translate(execErr))
		}
		n, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return nil, fmt.Errorf("episode rows affected: %w", rowsErr)
		}
		if n == 1 {
			committed = append(committed, ep)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit episodes: %w", err)
	}
	return committed, nil
}

// ListSubscribers returns subscribers of itemID in ascending order.
func (s *Store) ListSubscribers(ctx context.Context, itemID int64) ([]catalog.SubscriberID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscriptions WHERE item_id = ? ORDER BY user_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin subscribe tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (id) VALUES (?)`, int64(subscriber)); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO subscriptions (user_id, item_id) VALUES (?, ?)`, int64(subscriber), itemID)
	if err != nil {
		if code(err) == constraintForeignKey {
			return fmt.Errorf("subscribe item %d: %w", itemID, catalog.ErrNotFound)
		}
		return fmt.Errorf("subscribe item %d: %w", itemID, translate(err))
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit subscribe: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func code(err error) int {
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrNotFound
	}
	switch code(err) {
	case constraint, constraintUnique, constraintPrimaryKey, constraintForeignKey:
		return fmt.Errorf("%v: %w", err, catalog.ErrConflict)
	}
	return err
}

var _ catalog.Store = (*Store)(nil)
