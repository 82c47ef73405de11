// Package store provides the control plane's persistent key/value
// collections, backed by SQLite with WAL mode. Each collection holds one
// JSON document per label key; duplicate inserts and missing keys are
// typed errors the REST layer maps to 4xx responses.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Collection names used by the control plane.
const (
	Hosts    = "hosts"
	Services = "services"
	Policies = "policies"
)

var (
	// ErrDuplicate reports an insert over an existing key.
	ErrDuplicate = errors.New("key already present")
	// ErrNotFound reports a lookup or delete of a missing key.
	ErrNotFound = errors.New("key not found")
)

// Store is a set of named key/value collections.
type Store struct {
	db *sql.DB
}

// Entry is one stored document.
type Entry struct {
	Key   string
	Value []byte
}

// Open opens (creating if necessary) a store at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// single writer; sqlite serializes, the pool must not
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Insert stores a new document; ErrDuplicate if the key exists.
func (s *Store) Insert(collection, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO documents (collection, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, key) DO NOTHING`,
		collection, key, body, now())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrDuplicate)
	}
	return nil
}

// Put stores a document, replacing any previous value.
func (s *Store) Put(collection, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO documents (collection, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		collection, key, body, now())
	return err
}

// Get loads a document into out; ErrNotFound when absent.
func (s *Store) Get(collection, key string, out any) error {
	var body []byte
	err := s.db.QueryRow(
		`SELECT value FROM documents WHERE collection = ? AND key = ?`,
		collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Delete removes a document; ErrNotFound when absent.
func (s *Store) Delete(collection, key string) error {
	res, err := s.db.Exec(
		`DELETE FROM documents WHERE collection = ? AND key = ?`,
		collection, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return nil
}

// DeleteAll clears a collection.
func (s *Store) DeleteAll(collection string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE collection = ?`, collection)
	return err
}

// List returns every document in a collection, ordered by key.
func (s *Store) List(collection string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM documents WHERE collection = ? ORDER BY key`,
		collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
