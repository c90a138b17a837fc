// Package store is the persistent key/value layer over two logical
// tables: posts (the seen-post set) and listeners (durable listener
// configurations). It is a thin SQLite-backed CRUD layer; callers are
// responsible for all merge/validation logic.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kitfc/litehook/internal/model"
)

// ErrNotFound is returned by Get* when the row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a SQLite connection pool and provides the minimal CRUD
// the supervisor needs.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory and database file if absent,
// opens a connection pool (size 1 for ":memory:", 32 otherwise), and
// creates the posts/listeners tables if they don't exist.
func Open(path string) (*Store, error) {
	conns := 32
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create db directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("store: create db file: %w", err)
		}
		f.Close()
	} else {
		conns = 1
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(conns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			author TEXT,
			text TEXT,
			media TEXT,
			reactions TEXT,
			views TEXT,
			date TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS listeners (
			id TEXT PRIMARY KEY,
			active INTEGER NOT NULL DEFAULT 1,
			poll_interval INTEGER NOT NULL,
			channel_url TEXT NOT NULL,
			proxy_list_url TEXT,
			webhook_url TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertPost idempotently upserts a post by id (I3).
func (s *Store) InsertPost(post model.Post) error {
	media, err := json.Marshal(post.Media)
	if err != nil {
		return fmt.Errorf("store: marshal media: %w", err)
	}
	reactions, err := json.Marshal(post.Reactions)
	if err != nil {
		return fmt.Errorf("store: marshal reactions: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO posts (id, author, text, media, reactions, views, date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			author=excluded.author, text=excluded.text, media=excluded.media,
			reactions=excluded.reactions, views=excluded.views, date=excluded.date`,
		post.ID, post.Author, post.Text, string(media), string(reactions), post.Views, post.Date,
	)
	if err != nil {
		return fmt.Errorf("store: insert post %s: %w", post.ID, err)
	}
	return nil
}

// GetPost returns the post with the given id, or ErrNotFound.
func (s *Store) GetPost(id string) (model.Post, error) {
	var post model.Post
	var media, reactions string

	row := s.db.QueryRow(
		`SELECT id, author, text, media, reactions, views, date FROM posts WHERE id = ?`, id,
	)
	if err := row.Scan(&post.ID, &post.Author, &post.Text, &media, &reactions, &post.Views, &post.Date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, ErrNotFound
		}
		return model.Post{}, fmt.Errorf("store: get post %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(media), &post.Media); err != nil {
		return model.Post{}, fmt.Errorf("store: unmarshal media for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(reactions), &post.Reactions); err != nil {
		return model.Post{}, fmt.Errorf("store: unmarshal reactions for %s: %w", id, err)
	}

	return post, nil
}

// HasPost reports whether a post with the given id is already stored,
// without paying for the media/reactions unmarshal.
func (s *Store) HasPost(id string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM posts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has post %s: %w", id, err)
	}
	return true, nil
}

// InsertListener idempotently upserts a listener row by id.
func (s *Store) InsertListener(row model.ListenerRow) error {
	_, err := s.db.Exec(
		`INSERT INTO listeners (id, active, poll_interval, channel_url, proxy_list_url, webhook_url)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			active=excluded.active, poll_interval=excluded.poll_interval,
			channel_url=excluded.channel_url, proxy_list_url=excluded.proxy_list_url,
			webhook_url=excluded.webhook_url`,
		row.ID, row.Active, row.PollInterval, row.ChannelURL, row.ProxyListURL, row.WebhookURL,
	)
	if err != nil {
		return fmt.Errorf("store: insert listener %s: %w", row.ID, err)
	}
	return nil
}

// GetListener returns the listener row with the given id, or ErrNotFound.
func (s *Store) GetListener(id string) (model.ListenerRow, error) {
	var row model.ListenerRow
	var proxy sql.NullString

	err := s.db.QueryRow(
		`SELECT id, active, poll_interval, channel_url, proxy_list_url, webhook_url
		 FROM listeners WHERE id = ?`, id,
	).Scan(&row.ID, &row.Active, &row.PollInterval, &row.ChannelURL, &proxy, &row.WebhookURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ListenerRow{}, ErrNotFound
		}
		return model.ListenerRow{}, fmt.Errorf("store: get listener %s: %w", id, err)
	}
	row.ProxyListURL = proxy.String
	return row, nil
}

// GetAllListeners returns every persisted listener row.
func (s *Store) GetAllListeners() ([]model.ListenerRow, error) {
	rows, err := s.db.Query(
		`SELECT id, active, poll_interval, channel_url, proxy_list_url, webhook_url FROM listeners`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get all listeners: %w", err)
	}
	defer rows.Close()

	var out []model.ListenerRow
	for rows.Next() {
		var row model.ListenerRow
		var proxy sql.NullString
		if err := rows.Scan(&row.ID, &row.Active, &row.PollInterval, &row.ChannelURL, &proxy, &row.WebhookURL); err != nil {
			return nil, fmt.Errorf("store: scan listener: %w", err)
		}
		row.ProxyListURL = proxy.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteListener removes the listener row with the given id. Deleting
// an absent id is not an error.
func (s *Store) DeleteListener(id string) error {
	if _, err := s.db.Exec(`DELETE FROM listeners WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete listener %s: %w", id, err)
	}
	return nil
}
