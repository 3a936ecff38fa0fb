package analyze

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Defaults for the schema.sql scan
const (
	SchemaFileName = "schema.sql"
	DefaultCSVFile = "database_table_counts.csv"
)

var createTablePattern = regexp.MustCompile(
	`(?i)CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` +
		`(?:"((?:[^"]|"")+)"|` + "`([^`]+)`" + `|\[([^\]]+)\]|([^\s(]+))\s*\(`)

// ParseSchemaSQL returns the table names created by a SQL script, in order
func ParseSchemaSQL(content string) []string {
	names := []string{}
	for _, m := range createTablePattern.FindAllStringSubmatch(content, -1) {
		switch {
		case m[1] != "":
			names = append(names, strings.ReplaceAll(m[1], `""`, `"`))
		case m[2] != "":
			names = append(names, m[2])
		case m[3] != "":
			names = append(names, m[3])
		default:
			names = append(names, m[4])
		}
	}
	return names
}

// ParseSchemaFile reads and parses one schema script
func ParseSchemaFile(path string) Analysis {
	data, err := os.ReadFile(path)
	if err != nil {
		return failed(err)
	}
	names := ParseSchemaSQL(string(data))
	return Analysis{TableCount: len(names), TableNames: names, Status: StatusSuccess}
}

// ScanSchemaFiles parses every schema.sql under root, in path order
func ScanSchemaFiles(root string, logger *zap.Logger) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != SchemaFileName {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		e := Entry{
			RelPath:      rel,
			DatabaseName: norm.NFC.String(filepath.Base(filepath.Dir(path))),
			FullPath:     path,
			Analysis:     ParseSchemaFile(path),
		}
		if e.Analysis.OK() {
			logger.Info("parsed schema", zap.String("path", rel), zap.Int("tables", e.Analysis.TableCount))
		} else {
			logger.Warn("failed to parse schema", zap.String("path", rel), zap.String("error", e.Analysis.Error))
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sortEntries(entries)
	return entries, nil
}

// WriteCSV writes one row per successfully parsed entry
func WriteCSV(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv report: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"database", "table_count", "table_names"})
	for _, e := range entries {
		if !e.Analysis.OK() {
			continue
		}
		_ = w.Write([]string{
			e.DatabaseName,
			strconv.Itoa(e.Analysis.TableCount),
			strings.Join(e.Analysis.TableNames, "; "),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write csv report: %w", err)
	}
	return f.Close()
}
