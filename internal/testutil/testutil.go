// Package testutil builds SQLite fixture files for tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// CreateDatabase creates a SQLite file at path (parent directories included)
// and runs each statement against it.
func CreateDatabase(t *testing.T, path string, statements ...string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute %q on %s: %v", stmt, path, err)
		}
	}
	return path
}

// Open opens an existing SQLite file for assertions and closes it on cleanup.
func Open(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// QueryInt runs a single-value query and returns it as int64.
func QueryInt(t *testing.T, path, query string, args ...any) int64 {
	t.Helper()

	var n int64
	if err := Open(t, path).QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to run %q on %s: %v", query, path, err)
	}
	return n
}

// TableNames lists every non-internal table of the database in name order.
func TableNames(t *testing.T, path string) []string {
	t.Helper()

	rows, err := Open(t, path).Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		t.Fatalf("Failed to list tables of %s: %v", path, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("Failed to scan table name: %v", err)
		}
		names = append(names, name)
	}
	return names
}

// WriteFile writes content to a file under dir, creating parent directories.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// FindTable returns the named table of s, failing the test when it is absent.
func FindTable(t *testing.T, s *schema.Schema, name string) *schema.Table {
	t.Helper()

	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	t.Fatalf("Table %s not found in %v", name, s.TableNames())
	return nil
}
