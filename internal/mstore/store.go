// Package mstore persists training runs, scalar streams, and epoch summaries
// in an embedded DuckDB database.
package mstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/mstore/migrate"
)

const defaultQueryTimeout = 30 * time.Second

// Store wraps the DuckDB handle behind typed insert and query methods.
// Open one with NewStore; the zero value is not usable.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex

	QueryTimeout time.Duration
}

// NewStore opens the database at path, creating it and applying schema
// migrations as needed. An empty path opens an in-memory database. The
// optional timeout bounds each query and defaults to 30s.
func NewStore(path string, queryTimeout ...time.Duration) (*Store, error) {
	timeout := defaultQueryTimeout
	if len(queryTimeout) > 0 {
		if qt := queryTimeout[0]; qt > 0 {
			timeout = qt
		}
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	runner := migrate.NewRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mstore: migrate: %w", err)
	}

	return &Store{db: db, path: path, QueryTimeout: timeout}, nil
}

// DuckDB treats an empty DSN as in-memory, so only a file-backed path
// needs its parent directory created.
func openDatabase(path string) (*sql.DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("mstore: mkdir: %w", err)
		}
	}
	return sql.Open("duckdb", path)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the on-disk path, empty for in-memory stores.
func (s *Store) DBPath() string {
	return s.path
}

// DB exposes the underlying *sql.DB for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
