// Package store persists installed sub-package records in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/warpdl/warppkg/pkg/distlib"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements distlib.InstalledStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ distlib.InstalledStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dbPath and creates the schema.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// every pooled connection to ":memory:" would be a different database
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS installed_subpackages (
		package TEXT NOT NULL,
		app_version INTEGER NOT NULL,
		subpackage TEXT NOT NULL DEFAULT '',
		version_code INTEGER NOT NULL,
		PRIMARY KEY (package, subpackage)
	);
	CREATE INDEX IF NOT EXISTS idx_installed_app_version ON installed_subpackages(package, app_version);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Records returns every record of pkg ordered by sub-package name.
func (s *SQLiteStore) Records(ctx context.Context, pkg string) ([]distlib.InstalledRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT package, app_version, subpackage, version_code FROM installed_subpackages WHERE package = ? ORDER BY subpackage",
		pkg,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []distlib.InstalledRecord
	for rows.Next() {
		var r distlib.InstalledRecord
		if err := rows.Scan(&r.Package, &r.AppVersion, &r.Subpackage, &r.VersionCode); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return recs, nil
}

// Upsert stores rec and drops the records of any other app version of the
// same package in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, rec distlib.InstalledRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM installed_subpackages WHERE package = ? AND app_version != ?",
		rec.Package, rec.AppVersion,
	); err != nil {
		return fmt.Errorf("drop stale records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO installed_subpackages (package, app_version, subpackage, version_code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(package, subpackage) DO UPDATE SET
			app_version = excluded.app_version,
			version_code = excluded.version_code`,
		rec.Package, rec.AppVersion, rec.Subpackage, rec.VersionCode,
	); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return tx.Commit()
}

// Delete removes every record of pkg.
func (s *SQLiteStore) Delete(ctx context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM installed_subpackages WHERE package = ?", pkg); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// Packages lists every package with at least one record.
func (s *SQLiteStore) Packages(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT package FROM installed_subpackages ORDER BY package")
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
