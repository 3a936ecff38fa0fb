package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// MultiFileFormatter writes schema to multiple files in a directory
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text", "markdown" or "sql"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes an overview file plus one file per table
func (f *MultiFileFormatter) Format(s *schema.Schema) error {
	if _, err := New(f.OutputFormat, io.Discard); err != nil {
		return err
	}

	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeOverview(s); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for i := range s.Tables {
		if err := f.writeTableFile(&s.Tables[i], s); err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", s.Tables[i].Name, err)
		}
	}

	return nil
}

// writeOverview writes the overview file
func (f *MultiFileFormatter) writeOverview(s *schema.Schema) error {
	filename := filepath.Join(f.OutputDir, "_overview"+f.getFileExtension())

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	sortedTables := make([]schema.Table, len(s.Tables))
	copy(sortedTables, s.Tables)
	sort.Slice(sortedTables, func(i, j int) bool {
		return sortedTables[i].Name < sortedTables[j].Name
	})

	switch f.OutputFormat {
	case FormatMarkdown:
		_, _ = fmt.Fprintf(file, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(file, "Each table has a corresponding file: `<table_name>%s`\n\n", f.getFileExtension())
		_, _ = fmt.Fprintf(file, "## Tables\n\n")
		for _, table := range sortedTables {
			_, _ = fmt.Fprintf(file, "- **%s**%s\n", table.Name, referenceList(table, ", "))
		}
	case FormatSQL:
		_, _ = fmt.Fprintf(file, "-- Schema overview: one file per table, <table_name>%s\n", f.getFileExtension())
		for _, table := range sortedTables {
			_, _ = fmt.Fprintf(file, "-- %s%s\n", table.Name, referenceList(table, ", "))
		}
	default:
		_, _ = fmt.Fprintf(file, "SCHEMA OVERVIEW\n")
		_, _ = fmt.Fprintf(file, "Each table has a file: <table_name>%s\n\n", f.getFileExtension())
		for _, table := range sortedTables {
			_, _ = fmt.Fprintf(file, "%s%s\n", table.Name, referenceList(table, ","))
		}
	}

	return file.Close()
}

func referenceList(table schema.Table, sep string) string {
	if len(table.Relations) == 0 {
		return ""
	}
	targets := []string{}
	seen := map[string]bool{}
	for _, rel := range table.Relations {
		if !seen[rel.TargetTable] {
			seen[rel.TargetTable] = true
			targets = append(targets, rel.TargetTable)
		}
	}
	return fmt.Sprintf(" (references: %s)", strings.Join(targets, sep))
}

// writeTableFile writes a single table to its own file
func (f *MultiFileFormatter) writeTableFile(table *schema.Table, s *schema.Schema) error {
	filename := filepath.Join(f.OutputDir, FileName(table.Name)+f.getFileExtension())

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	incoming := findIncomingRelations(table.Name, s)

	switch f.OutputFormat {
	case FormatMarkdown:
		NewMarkdownFormatter(file).FormatTable(*table)
		if len(incoming) > 0 {
			_, _ = fmt.Fprintf(file, "### Referenced by\n\n")
			for _, rel := range incoming {
				_, _ = fmt.Fprintf(file, "- %s.%s → %s\n", rel.SourceTable, rel.SourceColumn, rel.TargetColumn)
			}
			_, _ = fmt.Fprintln(file)
		}
	case FormatSQL:
		NewSQLFormatter(file).FormatTable(*table)
	default:
		NewTextFormatter(file).FormatTable(*table)
		if len(incoming) > 0 {
			_, _ = fmt.Fprintln(file)
			_, _ = fmt.Fprintln(file, "  REFERENCED BY:")
			for _, rel := range incoming {
				_, _ = fmt.Fprintf(file, "    %s.%s → %s\n", rel.SourceTable, rel.SourceColumn, rel.TargetColumn)
			}
		}
	}

	return file.Close()
}

// IncomingRelation represents a relationship pointing to this table
type IncomingRelation struct {
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
}

// findIncomingRelations finds all foreign keys pointing to this table
func findIncomingRelations(tableName string, s *schema.Schema) []IncomingRelation {
	var incoming []IncomingRelation

	for _, table := range s.Tables {
		for _, rel := range table.Relations {
			if strings.EqualFold(rel.TargetTable, tableName) {
				incoming = append(incoming, IncomingRelation{
					SourceTable:  table.Name,
					SourceColumn: rel.SourceColumn,
					TargetTable:  rel.TargetTable,
					TargetColumn: rel.TargetColumn,
				})
			}
		}
	}

	return incoming
}

// FileName maps a table name to a safe file name
func FileName(table string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, table)
}

func (f *MultiFileFormatter) getFileExtension() string {
	switch f.OutputFormat {
	case FormatMarkdown:
		return ".md"
	case FormatSQL:
		return ".sql"
	default:
		return ".txt"
	}
}
