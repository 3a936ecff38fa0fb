package merge

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// auditSchema creates the two audit tables of a fresh target
const auditSchema = `
CREATE TABLE merge_metadata (
    id INTEGER PRIMARY KEY,
    source_database TEXT NOT NULL,
    original_table_name TEXT NOT NULL,
    merged_table_name TEXT NOT NULL,
    row_count INTEGER DEFAULT 0,
    merge_timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    notes TEXT
);

CREATE TABLE merge_conflicts (
    id INTEGER PRIMARY KEY,
    conflict_type TEXT NOT NULL,
    source_database TEXT NOT NULL,
    table_name TEXT NOT NULL,
    conflict_description TEXT,
    resolution_method TEXT,
    merge_timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// timestampLayout matches SQLite's CURRENT_TIMESTAMP text
const timestampLayout = "2006-01-02 15:04:05"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createAuditTables(ctx context.Context, x execer) error {
	if _, err := x.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit tables: %w", err)
	}
	return nil
}

func insertMapping(ctx context.Context, x execer, m Mapping) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO merge_metadata
		(source_database, original_table_name, merged_table_name, row_count, merge_timestamp, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.SourceDatabase, m.OriginalTable, m.MergedTable, m.RowCount, formatTimestamp(m.Timestamp), nullIfEmpty(m.Notes))
	if err != nil {
		return fmt.Errorf("failed to record mapping for %s: %w", m.MergedTable, err)
	}
	return nil
}

func insertConflict(ctx context.Context, x execer, c ConflictRecord) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO merge_conflicts
		(conflict_type, source_database, table_name, conflict_description, resolution_method, merge_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Type, c.SourceDatabase, c.TableName, c.Description, c.Resolution, formatTimestamp(c.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to record %s conflict for %s: %w", c.Type, c.TableName, err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
