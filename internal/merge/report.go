package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// topSourcesLimit is how many sources the report ranks
const topSourcesLimit = 10

// SourceTableCount aggregates merge_metadata for one source database
type SourceTableCount struct {
	SourceDatabase string `json:"source_database"`
	TableCount     int    `json:"table_count"`
	TotalRows      int64  `json:"total_rows"`
}

// Report is the JSON summary written at the end of a run
type Report struct {
	RunID              string                `json:"run_id"`
	Timestamp          string                `json:"timestamp"`
	StartedAt          time.Time             `json:"started_at"`
	FinishedAt         time.Time             `json:"finished_at"`
	InputPath          string                `json:"input_path"`
	OutputDatabase     string                `json:"output_database"`
	Stats              Statistics            `json:"stats"`
	ConflictResolution map[string]Resolution `json:"conflict_resolution"`
	FailedSources      []SourceFailure       `json:"failed_sources"`
	TopSources         []SourceTableCount    `json:"top_sources"`
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TopSources ranks source databases by how many tables they contributed
func TopSources(ctx context.Context, q querier, limit int) ([]SourceTableCount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT source_database, COUNT(*) AS table_count, COALESCE(SUM(row_count), 0) AS total_rows
		FROM merge_metadata
		GROUP BY source_database
		ORDER BY table_count DESC, source_database
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate merge_metadata: %w", err)
	}
	defer rows.Close()

	top := []SourceTableCount{}
	for rows.Next() {
		var s SourceTableCount
		if err := rows.Scan(&s.SourceDatabase, &s.TableCount, &s.TotalRows); err != nil {
			return nil, fmt.Errorf("failed to scan source aggregate: %w", err)
		}
		top = append(top, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate merge_metadata: %w", err)
	}
	return top, nil
}

// BuildReport assembles the report of a finished session
func BuildReport(sess *Session, inputPath, outputDB string, top []SourceTableCount) *Report {
	failures := sess.Failures
	if failures == nil {
		failures = []SourceFailure{}
	}
	if top == nil {
		top = []SourceTableCount{}
	}
	return &Report{
		RunID:              sess.RunID,
		Timestamp:          sess.FinishedAt.Format("2006-01-02T15:04:05"),
		StartedAt:          sess.StartedAt,
		FinishedAt:         sess.FinishedAt,
		InputPath:          inputPath,
		OutputDatabase:     outputDB,
		Stats:              sess.Stats,
		ConflictResolution: sess.Resolutions,
		FailedSources:      failures,
		TopSources:         top,
	}
}

// ReportFileName is the report name for a run started at t
func ReportFileName(t time.Time) string {
	return fmt.Sprintf("merge_report_%s.json", t.Format("20060102_150405"))
}

// WriteReport writes r into dir under a name stamped with the run's start
// time. An existing report is never overwritten: _1, _2, ... are appended.
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create report directory: %w", ErrOutputPath, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	base := ReportFileName(r.StartedAt)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	path := filepath.Join(dir, base)
	for n := 1; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: failed to create report: %w", ErrOutputPath, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return "", fmt.Errorf("%w: failed to write report: %w", ErrOutputPath, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("%w: failed to write report: %w", ErrOutputPath, err)
		}
		return path, nil
	}
}
