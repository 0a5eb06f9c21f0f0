package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the key-value pairs in a single-table SQLite database.
// Same contract as FileStore; useful where many small keys make one file per
// key wasteful.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Serialized access keeps last-write-wins semantics simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var value []byte
		err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", key, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, nil
}

func (s *SQLiteStore) Set(values map[string]json.RawMessage) error {
	for key, value := range values {
		if !json.Valid(value) {
			return fmt.Errorf("refusing to store invalid JSON under key %s", key)
		}
		_, err := s.db.Exec(`
			INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, []byte(value))
		if err != nil {
			return fmt.Errorf("write key %s: %w", key, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Remove(keys []string) error {
	for _, key := range keys {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("remove key %s: %w", key, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
