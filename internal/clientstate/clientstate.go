// Package clientstate persists the small pieces of client state that
// survive a restart: the last-opened conversation and a settings snapshot.
// It is read once at startup and written on every relevant mutation.
// Corrupted or missing entries degrade to "no selection" rather than
// erroring into the UI path.
package clientstate

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	_ "modernc.org/sqlite"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
)

// lastConversationKey is the state-table key for the last-opened
// conversation id.
const lastConversationKey = "last_conversation"

// Store persists client state in SQLite. Use ":memory:" as the path for an
// in-memory database (useful for testing).
type Store struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// Open opens or creates the state database at the given path and
// initializes the schema if the tables don't exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStateOpenFailed, "open state database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStateOpenFailed, "ping state database", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStateOpenFailed, "init state schema", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// LastConversation returns the persisted last-opened conversation id, or
// "" when none is stored or the entry cannot be read. Read failures are
// logged, never surfaced: startup must not break over a corrupt row.
func (s *Store) LastConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, lastConversationKey).Scan(&id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("clientstate: reading last conversation: %v", err)
		}
		return ""
	}
	return id
}

// SetLastConversation persists the last-opened conversation id. An empty
// id clears the selection.
func (s *Store) SetLastConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, lastConversationKey)
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastConversationKey, id)
	return err
}

// Setting returns the stored value for a settings key, or "" when absent
// or unreadable.
func (s *Store) Setting(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("clientstate: reading setting %s: %v", key, err)
		}
		return ""
	}
	return value
}

// SetSetting stores a settings value.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// Settings returns the full settings snapshot.
func (s *Store) Settings() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		log.Printf("clientstate: reading settings: %v", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			log.Printf("clientstate: scanning setting: %v", err)
			continue
		}
		out[k] = v
	}
	return out
}
