// Package merge consolidates many SQLite databases into one.
//
// A run walks the source databases found under an input directory in path
// order. Each source's tables are recreated in a fresh target database under
// unique names and their rows copied over. Provenance and conflicts are
// written to two audit tables in the target, and a JSON report summarizes
// the run.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/config"
	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// Merger runs one merge pass
type Merger struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver Resolver
	copier   *RowCopier
	now      func() time.Time
}

// New creates a merger for cfg. cfg is expected to be validated.
func New(cfg *config.Config, logger *zap.Logger) *Merger {
	return &Merger{
		cfg:      cfg,
		logger:   logger,
		resolver: Resolver{MaxLen: cfg.TableNameMaxLen},
		copier:   NewRowCopier(logger),
		now:      time.Now,
	}
}

// Run performs the merge and writes the report. The returned session is
// non-nil whenever the target could be initialized, even on error.
//
// Only errors wrapping ErrOutputPath (or a cancelled ctx) end the run early;
// unreadable sources, failed tables and rejected rows are recorded on the
// session and the run goes on.
func (m *Merger) Run(ctx context.Context) (*Session, error) {
	sess := NewSession(m.now())

	// Checked before openTarget, which deletes the previous target.
	info, err := os.Stat(m.cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", m.cfg.InputPath)
	}

	target, conn, err := m.openTarget(ctx)
	if err != nil {
		return nil, err
	}
	defer target.Close()
	defer conn.Close()

	if err := seedNames(ctx, conn, sess.names); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutputPath, err)
	}

	m.logger.Info("starting merge",
		zap.String("run_id", sess.RunID),
		zap.String("input", m.cfg.InputPath),
		zap.String("output", m.cfg.OutputDB))

	sources, err := Discover(m.cfg.InputPath, m.cfg.Extension, m.cfg.OutputDB)
	if err != nil {
		return sess, err
	}
	sess.Stats.TotalDatabases = len(sources)
	m.logger.Info("discovered source databases", zap.Int("count", len(sources)))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return sess, err
		}
		if err := m.mergeSource(ctx, conn, sess, src); err != nil {
			return sess, err
		}
	}

	sess.FinishedAt = m.now()

	top, err := TopSources(ctx, conn, topSourcesLimit)
	if err != nil {
		m.logger.Error("failed to rank sources", zap.Error(err))
	}
	m.logSummary(sess, top)

	report := BuildReport(sess, m.cfg.InputPath, m.cfg.OutputDB, top)
	path, err := WriteReport(m.cfg.ReportDir, report)
	if err != nil {
		return sess, err
	}
	m.logger.Info("report written", zap.String("path", path))

	return sess, nil
}

// openTarget replaces any existing target file with a fresh database holding
// only the audit tables, and returns the single connection all writes use.
func (m *Merger) openTarget(ctx context.Context) (*sql.DB, *sql.Conn, error) {
	path := m.cfg.OutputDB
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: failed to remove existing target: %w", ErrOutputPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create target directory: %w", ErrOutputPath, err)
	}

	target, err := sql.Open(db.DriverName, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to open target: %w", ErrOutputPath, err)
	}
	target.SetMaxOpenConns(1)

	conn, err := target.Conn(ctx)
	if err != nil {
		target.Close()
		return nil, nil, fmt.Errorf("%w: failed to open target: %w", ErrOutputPath, err)
	}

	fail := func(err error) (*sql.DB, *sql.Conn, error) {
		conn.Close()
		target.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrOutputPath, err)
	}

	if m.cfg.EnableForeignKeys {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fail(fmt.Errorf("failed to enable foreign keys: %w", err))
		}
	}
	if err := createAuditTables(ctx, conn); err != nil {
		return fail(err)
	}

	m.logger.Info("created target database", zap.String("path", path))
	return target, conn, nil
}

// seedNames claims every table already in the target
func seedNames(ctx context.Context, q querier, names NameSet) error {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return fmt.Errorf("failed to list target tables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to list target tables: %w", err)
		}
		names.Add(name)
	}
	return rows.Err()
}

// introspect reads the schema of src, leaving out reserved tables
func (m *Merger) introspect(ctx context.Context, src Source) (*schema.Schema, error) {
	client, err := db.NewSQLiteClient(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer client.Close()

	s, err := db.NewSQLiteExtractor(client, m.cfg.ReservedTables...).ExtractSchema(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	return s, nil
}

// mergeSource merges every table of one source in a single transaction.
// A returned error is fatal to the run; source-level failures are recorded
// on sess instead.
func (m *Merger) mergeSource(ctx context.Context, conn *sql.Conn, sess *Session, src Source) error {
	log := m.logger.With(zap.String("source", src.Name))
	log.Info("merging source", zap.String("path", src.Path))

	s, err := m.introspect(ctx, src)
	if err != nil {
		log.Error("failed to read source", zap.Error(err))
		sess.fail(src, err)
		return nil
	}

	for _, o := range s.Omitted {
		log.Warn("table omitted", zap.String("table", o.Name),
			zap.Error(fmt.Errorf("%w: %w", ErrSchemaIntrospection, o.Err)))
		sess.Stats.FailedTables++
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrOutputPath, err)
	}

	var tables int
	var rows int64
	var srcErr error
	for i := range s.Tables {
		n, ok, err := m.mergeTable(ctx, tx, sess, src, &s.Tables[i])
		if err != nil {
			srcErr = err
			break
		}
		if ok {
			tables++
			rows += n
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit %s: %w", ErrOutputPath, src.Name, err)
	}

	sess.Stats.TotalTables += tables
	sess.Stats.TotalRows += rows

	if srcErr != nil {
		log.Error("source merge aborted", zap.Int("tables", tables), zap.Error(srcErr))
		sess.fail(src, srcErr)
		return nil
	}

	sess.Stats.SuccessfulMerges++
	log.Info("merged source", zap.Int("tables", tables), zap.Int64("rows", rows))
	return nil
}

// mergeTable resolves, creates and fills one target table. ok is false when
// the table was skipped. A returned error aborts the rest of the source.
func (m *Merger) mergeTable(ctx context.Context, tx *sql.Tx, sess *Session, src Source, table *schema.Table) (int64, bool, error) {
	log := m.logger.With(zap.String("source", src.Name), zap.String("table", table.Name))
	now := m.now()

	name := m.resolver.Resolve(table.Name, src.Name, sess.names)

	if err := Materialize(ctx, tx, name, table); err != nil {
		log.Error("failed to create table", zap.String("target", name), zap.Error(err))
		sess.Stats.FailedTables++
		return 0, false, m.recordConflict(ctx, tx, sess, ConflictRecord{
			Type:           ConflictCreateFailed,
			SourceDatabase: src.Name,
			TableName:      table.Name,
			Description:    err.Error(),
			Resolution:     ResolutionSkipTable,
			Timestamp:      now,
		})
	}
	sess.names.Add(name)

	var notes string
	if name != table.Name {
		notes = fmt.Sprintf("renamed from %s", table.Name)
		log.Info("resolved name collision", zap.String("target", name))
		sess.Stats.Conflicts++
		sess.Resolutions[name] = Resolution{
			OriginalTable:  table.Name,
			SourceDatabase: src.Name,
			Method:         ResolutionPrefixDBName,
		}
		err := m.recordConflict(ctx, tx, sess, ConflictRecord{
			Type:           ConflictNameCollision,
			SourceDatabase: src.Name,
			TableName:      table.Name,
			Description:    fmt.Sprintf("table %s already exists in target, created as %s", table.Name, name),
			Resolution:     ResolutionPrefixDBName,
			Timestamp:      now,
		})
		if err != nil {
			return 0, false, err
		}
	}

	res, copyErr := m.copier.CopyRows(ctx, src.Path, table.Name, table.ColumnNames(), tx, name)
	if copyErr != nil {
		log.Error("row copy aborted", zap.Int64("inserted", res.Inserted), zap.Error(copyErr))
		sess.Stats.FailedTables++
		notes = joinNotes(notes, "copy aborted: "+copyErr.Error())
	}

	if res.Skipped > 0 {
		sess.Stats.SkippedRows += res.Skipped
		err := m.recordConflict(ctx, tx, sess, ConflictRecord{
			Type:           ConflictRowIntegrity,
			SourceDatabase: src.Name,
			TableName:      table.Name,
			Description: fmt.Sprintf("%s: %d of %d rows skipped copying into %s; first: %s",
				ErrRowIntegrity, res.Skipped, res.Skipped+res.Inserted, name, res.FirstCause),
			Resolution: ResolutionSkipRow,
			Timestamp:  now,
		})
		if err != nil {
			return 0, false, err
		}
	}

	mapping := Mapping{
		SourceDatabase: src.Name,
		OriginalTable:  table.Name,
		MergedTable:    name,
		RowCount:       res.Inserted,
		Timestamp:      now,
		Notes:          notes,
	}
	if err := insertMapping(ctx, tx, mapping); err != nil {
		return 0, false, err
	}
	sess.Mappings = append(sess.Mappings, mapping)

	log.Debug("copied table", zap.String("target", name),
		zap.Int64("rows", res.Inserted), zap.Int64("skipped", res.Skipped))
	return res.Inserted, true, nil
}

func (m *Merger) recordConflict(ctx context.Context, tx *sql.Tx, sess *Session, c ConflictRecord) error {
	if err := insertConflict(ctx, tx, c); err != nil {
		return err
	}
	sess.Conflicts = append(sess.Conflicts, c)
	return nil
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func (m *Merger) logSummary(sess *Session, top []SourceTableCount) {
	st := sess.Stats
	m.logger.Info("merge summary",
		zap.Int("total_databases", st.TotalDatabases),
		zap.Int("successful_merges", st.SuccessfulMerges),
		zap.Int("failed_merges", st.FailedMerges),
		zap.Int("total_tables", st.TotalTables),
		zap.Int64("total_rows", st.TotalRows),
		zap.Int("conflicts", st.Conflicts),
		zap.Int("failed_tables", st.FailedTables),
		zap.Int64("skipped_rows", st.SkippedRows),
		zap.Duration("elapsed", sess.FinishedAt.Sub(sess.StartedAt)))

	for i, s := range top {
		m.logger.Info("top source",
			zap.Int("rank", i+1),
			zap.String("source", s.SourceDatabase),
			zap.Int("tables", s.TableCount),
			zap.Int64("rows", s.TotalRows))
	}
}
