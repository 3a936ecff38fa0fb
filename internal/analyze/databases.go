package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/merge"
)

// DefaultReportFile is where ScanDatabases results are written by default
const DefaultReportFile = "sqlite_analysis_report.json"

// AnalyzeDatabase collects table, row and column statistics for one file.
// Failures are reported in the result rather than returned.
func AnalyzeDatabase(ctx context.Context, path string) Analysis {
	client, err := db.NewSQLiteClient(ctx, path)
	if err != nil {
		return failed(err)
	}
	defer client.Close()

	s, err := db.NewSQLiteExtractor(client).ExtractSchema(ctx, nil)
	if err != nil {
		return failed(err)
	}
	if len(s.Omitted) > 0 {
		o := s.Omitted[0]
		return failed(fmt.Errorf("failed to read table %s: %w", o.Name, o.Err))
	}

	a := Analysis{
		TableCount: len(s.Tables),
		TableNames: s.TableNames(),
		TableInfo:  make(map[string]TableInfo, len(s.Tables)),
		Status:     StatusSuccess,
	}
	if a.TableNames == nil {
		a.TableNames = []string{}
	}

	for _, t := range s.Tables {
		n, err := client.CountRows(ctx, t.Name)
		if err != nil {
			return failed(fmt.Errorf("failed to count rows of %s: %w", t.Name, err))
		}
		info := TableInfo{RowCount: n, ColumnCount: len(t.Columns)}
		for _, c := range t.Columns {
			info.Columns = append(info.Columns, ColumnInfo{Name: c.Name, Type: c.Type})
		}
		a.TableInfo[t.Name] = info
	}
	return a
}

// ScanDatabases analyzes every file with extension ext under root, in path order
func ScanDatabases(ctx context.Context, root, ext string, logger *zap.Logger) ([]Entry, error) {
	sources, err := merge.Discover(root, ext)
	if err != nil {
		return nil, err
	}
	logger.Info("found databases", zap.Int("count", len(sources)))

	entries := make([]Entry, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, err := filepath.Rel(root, src.Path)
		if err != nil {
			rel = src.Path
		}

		e := Entry{
			RelPath:      rel,
			DatabaseName: src.Name,
			FullPath:     src.Path,
			Analysis:     AnalyzeDatabase(ctx, src.Path),
		}
		if e.Analysis.OK() {
			logger.Info("analyzed database",
				zap.String("path", rel),
				zap.Int("progress", i+1),
				zap.Int("tables", e.Analysis.TableCount),
				zap.Strings("names", e.Analysis.TableNames))
		} else {
			logger.Warn("failed to analyze database", zap.String("path", rel), zap.String("error", e.Analysis.Error))
		}
		entries = append(entries, e)
	}

	sortEntries(entries)
	return entries, nil
}

// WriteJSON writes entries to path as one object keyed by relative path
func WriteJSON(path string, entries []Entry) error {
	byPath := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byPath[e.RelPath] = e
	}

	data, err := json.MarshalIndent(byPath, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
