package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// SQLiteExtractor handles schema extraction from SQLite
type SQLiteExtractor struct {
	client  *SQLiteClient
	exclude map[string]bool
}

// NewSQLiteExtractor creates a new SQLite schema extractor. Tables named in
// exclude are never returned; the comparison ignores ASCII case.
func NewSQLiteExtractor(client *SQLiteClient, exclude ...string) *SQLiteExtractor {
	set := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		set[strings.ToLower(name)] = true
	}
	return &SQLiteExtractor{
		client:  client,
		exclude: set,
	}
}

// ExtractSchema extracts the schema for the specified tables, or for every
// table in catalog order when tables is empty.
//
// Failing to list the tables is an error for the whole database. A table
// whose own catalog queries fail is recorded in Schema.Omitted instead.
func (e *SQLiteExtractor) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	tableNames, err := e.getTableNames(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	s := &schema.Schema{}
	for _, tableName := range tableNames {
		table, err := e.extractTable(ctx, tableName)
		if err != nil {
			s.Omitted = append(s.Omitted, schema.OmittedTable{Name: tableName, Err: err})
			continue
		}
		s.Tables = append(s.Tables, *table)
	}

	return s, nil
}

// getTableNames returns the list of tables to extract
func (e *SQLiteExtractor) getTableNames(ctx context.Context, requestedTables []string) ([]string, error) {
	if len(requestedTables) > 0 {
		var tableList []string
		for _, name := range requestedTables {
			if !e.exclude[strings.ToLower(name)] {
				tableList = append(tableList, name)
			}
		}
		return tableList, nil
	}

	// No ORDER BY: tables come back in the order the catalog stores them.
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tableList []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		if e.exclude[strings.ToLower(tableName)] {
			continue
		}
		tableList = append(tableList, tableName)
	}

	return tableList, rows.Err()
}

// extractTable extracts all information for a single table
func (e *SQLiteExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", tableName)
	}
	table.Columns = columns

	relations, err := e.extractRelations(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	table.Relations = relations

	indexes, err := e.extractIndexes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	// Single-column unique indexes mark their column unique; primary keys are
	// reported separately. Auto-indexes only back constraints and are not listed.
	for _, idx := range indexes {
		if idx.IsUnique && idx.Origin != "pk" && len(idx.Columns) == 1 {
			for i := range table.Columns {
				if table.Columns[i].Name == idx.Columns[0] && table.Columns[i].PrimaryKey == 0 {
					table.Columns[i].IsUnique = true
				}
			}
		}
		if !strings.HasPrefix(idx.Name, "sqlite_autoindex") {
			table.Indexes = append(table.Indexes, idx)
		}
	}

	return table, nil
}

// extractColumns extracts column information for a table
func (e *SQLiteExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", schema.QuoteIdent(tableName))

	rows, err := e.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var cid, notNull, pk int
		var name string
		var colType, defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}

		col := schema.Column{
			Name:       name,
			Type:       colType.String,
			NotNull:    notNull != 0,
			PrimaryKey: pk,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// extractRelations extracts foreign key relationships
func (e *SQLiteExtractor) extractRelations(ctx context.Context, tableName string) ([]schema.Relation, error) {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", schema.QuoteIdent(tableName))

	rows, err := e.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []schema.Relation
	for rows.Next() {
		var id, seq int
		var targetTable, fromCol, onUpdate, onDelete, match string
		var toCol sql.NullString

		if err := rows.Scan(&id, &seq, &targetTable, &fromCol, &toCol, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}

		relations = append(relations, schema.Relation{
			ID:           id,
			SourceColumn: fromCol,
			TargetTable:  targetTable,
			TargetColumn: toCol.String,
			OnUpdate:     onUpdate,
			OnDelete:     onDelete,
		})
	}

	return relations, rows.Err()
}

// extractIndexes extracts every index on the table, auto-indexes included
func (e *SQLiteExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := fmt.Sprintf("PRAGMA index_list(%s)", schema.QuoteIdent(tableName))

	rows, err := e.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	var indexes []schema.Index
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string

		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		indexes = append(indexes, schema.Index{
			Name:     name,
			IsUnique: unique == 1,
			Origin:   origin,
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range indexes {
		columns, err := e.indexColumns(ctx, indexes[i].Name)
		if err != nil {
			return nil, err
		}
		indexes[i].Columns = columns
	}

	return indexes, nil
}

func (e *SQLiteExtractor) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%s)", schema.QuoteIdent(indexName))

	rows, err := e.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString

		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, err
		}
		// Expression index terms have no column name.
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}

	return columns, rows.Err()
}
