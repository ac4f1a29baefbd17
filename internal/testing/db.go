// Package testing provides testing utilities and helpers shared across packages.
package testing

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
)

// NewTestDB creates a file-backed SQLite database for testing with automatic
// schema migration. The file lives in t.TempDir() so it is removed when the
// test finishes; the returned cleanup closes the connection and is safe to
// call more than once.
//
// Supported schema names:
//   - "prices" - applies prices_schema.sql
//   - "results" - applies results_schema.sql
//   - unknown names - creates an empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))

	db, err := database.New(database.Config{
		Path:    path,
		Profile: profileFor(name),
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}

// NewMemoryDB opens a throwaway in-memory database on the cgo driver and
// applies the named schema. Repository SQL gets exercised on the canonical
// SQLite build here and on the pure-Go production driver through the
// file-backed helpers. An in-memory database lives and dies with its
// connection, so the pool is pinned to a single never-expiring one.
func NewMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database %s: %v", name, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Match the production profiles: foreign keys on everywhere.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to enable foreign keys for %s: %v", name, err)
	}

	schema, err := database.SchemaSQL(name)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Failed to load schema for %s: %v", name, err)
	}
	if schema != "" {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			t.Fatalf("Failed to apply schema for %s: %v", name, err)
		}
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close in-memory database %s: %v", name, err)
		}
	})
	return db
}

// NewTestDBWithSchema creates a test database and applies a custom schema
// instead of the migration files. Useful for exercising repositories against
// reduced table shapes.
func NewTestDBWithSchema(t *testing.T, name string, schema string) (*database.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))

	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			_ = db.Close()
			t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
		}
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}

// profileFor mirrors the production profile assignment so tests exercise the
// same PRAGMA set as the real databases.
func profileFor(name string) database.DatabaseProfile {
	if name == "results" {
		return database.ProfileLedger
	}
	return database.ProfileStandard
}
