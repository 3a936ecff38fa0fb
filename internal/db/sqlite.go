package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// DriverName is the database/sql driver registered by go-sqlite3
const DriverName = "sqlite3"

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// SQLiteClient manages a read-only connection to a SQLite file
type SQLiteClient struct {
	db *sql.DB
}

// NewSQLiteClient opens path read-only. A missing file is an error rather
// than an empty database, and nothing is ever written to the source.
func NewSQLiteClient(ctx context.Context, path string) (*SQLiteClient, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to open database: %s is a directory", path)
	}

	db, err := sql.Open(DriverName, ReadOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// ReadOnlyDSN builds a URI filename that opens path with mode=ro
func ReadOnlyDSN(path string) string {
	return "file:" + uriEscaper.Replace(path) + "?mode=ro"
}

// Close closes the database connection
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *SQLiteClient) GetDB() *sql.DB {
	return c.db
}

// CountRows returns the number of rows in a table
func (c *SQLiteClient) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.QuoteIdent(table))
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
