package store

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Store: content-addressed compiled-module cache
// ---------------------------------------------------------------------------

// Store persists compiled programs keyed by the SHA-256 of their source.
// A cache hit skips parsing and compiling; a miss or a corrupt entry is
// answered by recompiling, so the store is never load-bearing.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) a cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		hash    BLOB PRIMARY KEY,
		program BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating modules table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hash returns the content hash of a script source.
func Hash(source []byte) [32]byte {
	return sha256.Sum256(source)
}

// Get looks up the compiled program for a source hash. The second return
// is false on a miss.
func (s *Store) Get(hash [32]byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.db.QueryRow("SELECT program FROM modules WHERE hash = ?", hash[:]).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying cache: %w", err)
	}
	return blob, true, nil
}

// Put stores the compiled program for a source hash, replacing any
// previous entry.
func (s *Store) Put(hash [32]byte, program []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO modules (hash, program) VALUES (?, ?)",
		hash[:], program,
	)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}
