// Package migrate applies the embedded, versioned SQL schema to a DuckDB
// database. Files under migrations/ are named NNN_description.sql and applied
// in version order, each in its own transaction.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// Runner applies the schema to one database connection.
type Runner struct {
	db *sql.DB
}

// NewRunner wraps db for migration.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

type migration struct {
	version int
	file    string
	ddl     string
}

// parseVersion extracts the numeric NNN prefix of a migration file name.
func parseVersion(name string) (int, error) {
	sep := strings.IndexByte(name, '_')
	if sep < 0 {
		return 0, fmt.Errorf("migration %s has no version prefix", name)
	}
	return strconv.Atoi(name[:sep])
}

func embeddedMigrations() ([]migration, error) {
	paths, err := fs.Glob(schemaFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}

	list := make([]migration, 0, len(paths))
	for _, path := range paths {
		base := strings.TrimPrefix(path, "migrations/")
		version, err := parseVersion(base)
		if err != nil {
			return nil, err
		}
		data, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", base, err)
		}
		list = append(list, migration{version: version, file: base, ddl: string(data)})
	}

	slices.SortFunc(list, func(a, b migration) int { return a.version - b.version })
	return list, nil
}

func (r *Runner) ensureLedger() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       VARCHAR NOT NULL,
			applied_at TIMESTAMP DEFAULT current_timestamp
		)`)
	return err
}

func (r *Runner) schemaVersion() (int, error) {
	var v int
	err := r.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// apply runs one migration and records it, both inside the same
// transaction.
func (r *Runner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.file, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.ddl); err != nil {
		return fmt.Errorf("executing %s: %w", m.file, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.file); err != nil {
		return fmt.Errorf("recording %s: %w", m.file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.file, err)
	}
	return nil
}

// Run applies every migration above the ledger's current version, oldest
// first.
func (r *Runner) Run() error {
	if err := r.ensureLedger(); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := r.schemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	list, err := embeddedMigrations()
	if err != nil {
		return err
	}

	for _, m := range list {
		if m.version <= applied {
			continue
		}
		if err := r.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the highest applied version and how many migrations are
// still pending.
func (r *Runner) Status() (applied, pending int, err error) {
	if err := r.ensureLedger(); err != nil {
		return 0, 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err = r.schemaVersion()
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	list, err := embeddedMigrations()
	if err != nil {
		return 0, 0, err
	}

	for _, m := range list {
		if m.version > applied {
			pending++
		}
	}
	return applied, pending, nil
}
