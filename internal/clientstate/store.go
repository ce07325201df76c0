// Package clientstate persists what the sync client needs across sessions:
// the last known location, the auth token and the selected filters.
package clientstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mr1hm/civic-issues/internal/models"
)

const (
	keyLocation = "location"
	keyToken    = "token"
	keyFilter   = "filter"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS client_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

type Store struct {
	db *sql.DB
}

// Open creates or opens the state database. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// get reports false when the key has never been written.
func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) SaveLocation(ctx context.Context, loc models.Location) error {
	return s.put(ctx, keyLocation, loc)
}

// LoadLocation returns nil when no location was ever saved. The result is
// marked as coming from storage.
func (s *Store) LoadLocation(ctx context.Context) (*models.Location, error) {
	var loc models.Location
	ok, err := s.get(ctx, keyLocation, &loc)
	if err != nil || !ok {
		return nil, err
	}
	loc.Source = models.SourceStored
	return &loc, nil
}

func (s *Store) SaveToken(ctx context.Context, token string) error {
	return s.put(ctx, keyToken, token)
}

func (s *Store) LoadToken(ctx context.Context) (string, error) {
	var token string
	_, err := s.get(ctx, keyToken, &token)
	return token, err
}

func (s *Store) SaveFilter(ctx context.Context, f models.FilterState) error {
	return s.put(ctx, keyFilter, f)
}

// LoadFilter falls back to the default filter when nothing valid is stored.
func (s *Store) LoadFilter(ctx context.Context) (models.FilterState, error) {
	f := models.DefaultFilter()
	ok, err := s.get(ctx, keyFilter, &f)
	if err != nil || !ok {
		return models.DefaultFilter(), err
	}
	if f.Validate() != nil {
		return models.DefaultFilter(), nil
	}
	return f, nil
}
