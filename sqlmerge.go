// Package sqlmerge consolidates a corpus of SQLite databases into one and
// documents the result.
//
// A corpus is a directory tree holding one database file per domain, each
// in a directory named after it. Merge copies every table of every database
// into a single target file, renaming tables whose names are already taken
// and recording where each table came from in two audit tables
// (merge_metadata and merge_conflicts).
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.InputPath = "CSpider/database"
//	session, err := sqlmerge.Merge(ctx, cfg, logger)
//
// Any SQLite file, the merged one included, can then be documented:
//
//	err := sqlmerge.ExtractAndFormat(
//		ctx,
//		"report/merged.sqlite",
//		&sqlmerge.Options{ExcludeTables: []string{"sqlite_stat1"}},
//		&sqlmerge.OutputOptions{OutputDir: "docs/schema", Format: "sql"},
//	)
//
// # Output Formats
//
// text and markdown describe each table for humans; sql renders the CREATE
// TABLE statement the merge uses to reproduce a table. Multi-file output
// writes an _overview file plus one file per table.
package sqlmerge

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/config"
	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/formatter"
	"github.com/yang-zhuang/sqlmerge/internal/merge"
	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// Merge validates cfg and runs one merge pass. See merge.Merger.Run for
// which failures end the run.
func Merge(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*merge.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return merge.New(cfg, logger).Run(ctx)
}

// Options configures schema extraction behavior.
//
// All fields are optional. Tables limits extraction to the named tables;
// ExcludeTables drops tables afterwards. The merge audit tables are left out
// unless IncludeAuditTables is set.
type Options struct {
	// Tables specifies which tables to include in the extraction.
	// If nil or empty, all tables are extracted in catalog order.
	Tables []string

	// ExcludeTables specifies tables to exclude from extraction.
	// Names are compared ignoring ASCII case.
	ExcludeTables []string

	// IncludeAuditTables keeps merge_metadata and merge_conflicts.
	IncludeAuditTables bool
}

// OutputOptions configures schema output formatting.
//
// If OutputDir is set it takes precedence and Writer is ignored. If neither
// is set, output goes to os.Stdout.
type OutputOptions struct {
	// Writer receives single-file output.
	Writer io.Writer

	// OutputDir receives _overview plus one file per table. It is created
	// if missing.
	OutputDir string

	// Format is text, markdown or sql. Defaults to markdown.
	Format string
}

// ExtractAndFormat extracts the schema of a SQLite file and formats it in one call.
func ExtractAndFormat(ctx context.Context, path string, opts *Options, outOpts *OutputOptions) error {
	s, err := ExtractSchema(ctx, path, opts)
	if err != nil {
		return err
	}
	return FormatSchema(s, outOpts)
}

// ExtractSchema reads the schema of the SQLite file at path. A sqlite://
// prefix is accepted. Tables whose catalog queries fail are listed in
// Schema.Omitted.
func ExtractSchema(ctx context.Context, path string, opts *Options) (*schema.Schema, error) {
	if opts == nil {
		opts = &Options{}
	}

	filePath, err := parseDatabasePath(path)
	if err != nil {
		return nil, err
	}

	client, err := db.NewSQLiteClient(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	defer func() { _ = client.Close() }()

	var exclude []string
	if !opts.IncludeAuditTables {
		exclude = []string{config.MetadataTable, config.ConflictsTable}
	}

	s, err := db.NewSQLiteExtractor(client, exclude...).ExtractSchema(ctx, opts.Tables)
	if err != nil {
		return nil, fmt.Errorf("failed to extract schema: %w", err)
	}

	filterExcludedTables(s, opts.ExcludeTables)
	return s, nil
}

// FormatSchema writes s to the output described by opts.
func FormatSchema(s *schema.Schema, opts *OutputOptions) error {
	if opts == nil {
		opts = &OutputOptions{}
	}
	format := opts.Format
	if format == "" {
		format = formatter.FormatMarkdown
	}

	// Multi-file output
	if opts.OutputDir != "" {
		return formatter.NewMultiFileFormatter(opts.OutputDir, format).Format(s)
	}

	// Single-file output
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}
	f, err := formatter.New(format, writer)
	if err != nil {
		return err
	}
	return f.Format(s)
}

// parseDatabasePath strips an optional sqlite:// scheme
func parseDatabasePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("database path is required")
	}

	if strings.HasPrefix(path, "sqlite://") {
		path = strings.TrimPrefix(path, "sqlite://")
		if path == "" {
			return "", fmt.Errorf("database path is required")
		}
		return path, nil
	}

	if i := strings.Index(path, "://"); i > 0 {
		return "", fmt.Errorf("unsupported database URL scheme %q (only SQLite files are supported)", path[:i])
	}
	return path, nil
}

func filterExcludedTables(s *schema.Schema, excludeList []string) {
	if len(excludeList) == 0 {
		return
	}

	excludeSet := make(map[string]bool)
	for _, tableName := range excludeList {
		excludeSet[strings.ToLower(tableName)] = true
	}

	filteredTables := make([]schema.Table, 0, len(s.Tables))
	for _, table := range s.Tables {
		if !excludeSet[strings.ToLower(table.Name)] {
			filteredTables = append(filteredTables, table)
		}
	}
	s.Tables = filteredTables
}
