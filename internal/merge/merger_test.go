package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yang-zhuang/sqlmerge/internal/config"
	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/testutil"
)

func newConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	out := t.TempDir()
	cfg := config.Default()
	cfg.InputPath = input
	cfg.OutputDB = filepath.Join(out, "merged.sqlite")
	cfg.LogFile = filepath.Join(out, "merge.log")
	cfg.ReportDir = filepath.Join(out, "reports")
	require.NoError(t, cfg.Validate())
	return cfg
}

func runMerge(t *testing.T, cfg *config.Config) (*Session, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	sess, err := New(cfg, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess, logs
}

// schoolInput lays out two sources that both define students
func schoolInput(t *testing.T) string {
	t.Helper()
	input := t.TempDir()
	testutil.CreateDatabase(t, filepath.Join(input, "alpha", "school.sqlite"),
		`CREATE TABLE students (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO students VALUES (1, 'ann'), (2, 'bob')`,
		`CREATE TABLE courses (id INTEGER PRIMARY KEY, title TEXT)`,
		`INSERT INTO courses VALUES (1, 'algebra')`,
	)
	testutil.CreateDatabase(t, filepath.Join(input, "beta", "school.sqlite"),
		`CREATE TABLE students (id INTEGER PRIMARY KEY, name TEXT NOT NULL, year INTEGER)`,
		`INSERT INTO students VALUES (3, 'cy', 1), (4, 'di', 2), (5, 'ed', 3)`,
	)
	return input
}

// assertRowCountFidelity checks every mapping against the rows in its table
func assertRowCountFidelity(t *testing.T, path string) {
	t.Helper()

	rows, err := testutil.Open(t, path).Query(`SELECT merged_table_name, row_count FROM merge_metadata`)
	require.NoError(t, err)
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var name string
		var n int64
		require.NoError(t, rows.Scan(&name, &n))
		counts[name] = n
	}
	require.NoError(t, rows.Err())

	for name, n := range counts {
		assert.Equal(t, n, testutil.QueryInt(t, path, `SELECT COUNT(*) FROM "`+name+`"`), name)
	}
}

func assertUniqueNames(t *testing.T, path string) {
	t.Helper()
	seen := map[string]string{}
	for _, name := range testutil.TableNames(t, path) {
		folded := strings.ToLower(name)
		if prev, ok := seen[folded]; ok {
			t.Errorf("tables %q and %q share a name", prev, name)
		}
		seen[folded] = name
	}
}

func TestMergeNameCollision(t *testing.T) {
	cfg := newConfig(t, schoolInput(t))
	sess, logs := runMerge(t, cfg)

	assert.Equal(t, Statistics{
		TotalDatabases:   2,
		SuccessfulMerges: 2,
		TotalTables:      3,
		TotalRows:        6,
		Conflicts:        1,
	}, sess.Stats)

	assert.Equal(t, []string{"beta_students", "courses", "merge_conflicts", "merge_metadata", "students"},
		testutil.TableNames(t, cfg.OutputDB))

	want := []Mapping{
		{SourceDatabase: "alpha", OriginalTable: "students", MergedTable: "students", RowCount: 2},
		{SourceDatabase: "alpha", OriginalTable: "courses", MergedTable: "courses", RowCount: 1},
		{SourceDatabase: "beta", OriginalTable: "students", MergedTable: "beta_students", RowCount: 3, Notes: "renamed from students"},
	}
	if diff := cmp.Diff(want, sess.Mappings, cmpopts.IgnoreFields(Mapping{}, "Timestamp")); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, map[string]Resolution{
		"beta_students": {OriginalTable: "students", SourceDatabase: "beta", Method: ResolutionPrefixDBName},
	}, sess.Resolutions)

	assert.Equal(t, int64(1), testutil.QueryInt(t, cfg.OutputDB,
		`SELECT COUNT(*) FROM merge_conflicts WHERE conflict_type = ? AND resolution_method = ? AND source_database = 'beta'`,
		ConflictNameCollision, ResolutionPrefixDBName))
	assert.Equal(t, int64(3), testutil.QueryInt(t, cfg.OutputDB, `SELECT COUNT(*) FROM merge_metadata`))
	assert.Equal(t, int64(6), testutil.QueryInt(t, cfg.OutputDB, `SELECT SUM(year) FROM beta_students`))

	assert.Equal(t, 1, logs.FilterMessage("resolved name collision").Len())
	assertUniqueNames(t, cfg.OutputDB)
	assertRowCountFidelity(t, cfg.OutputDB)
}

// legacySchema rewrites the stored CREATE statement of a table, producing a
// file whose rows no longer satisfy its declared constraints.
func legacySchema(t *testing.T, path, table, create string) {
	t.Helper()
	conn, err := sql.Open(db.DriverName, path)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	_, err = conn.Exec("PRAGMA writable_schema = ON")
	require.NoError(t, err)
	_, err = conn.Exec("UPDATE sqlite_master SET sql = ? WHERE type = 'table' AND name = ?", create, table)
	require.NoError(t, err)
}

func TestMergeSkipsViolatingRows(t *testing.T) {
	input := t.TempDir()
	hr := testutil.CreateDatabase(t, filepath.Join(input, "hr", "hr.sqlite"),
		`CREATE TABLE people (id INTEGER, name TEXT)`,
		`INSERT INTO people VALUES (1, 'a'), (2, 'b'), (3, NULL), (4, 'd'), (5, NULL), (6, 'f'), (7, 'g'), (8, NULL), (9, 'i'), (10, 'j')`,
		`CREATE TABLE teams (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO teams VALUES (1, 'red'), (2, 'blue')`,
	)
	legacySchema(t, hr, "people", `CREATE TABLE people (id INTEGER, name TEXT NOT NULL)`)
	testutil.CreateDatabase(t, filepath.Join(input, "zoo", "zoo.sqlite"),
		`CREATE TABLE animals (id INTEGER PRIMARY KEY, kind TEXT)`,
		`INSERT INTO animals VALUES (1, 'owl'), (2, 'elk'), (3, 'yak')`,
	)

	cfg := newConfig(t, input)
	sess, logs := runMerge(t, cfg)

	assert.Equal(t, 2, sess.Stats.SuccessfulMerges)
	assert.Equal(t, int64(3), sess.Stats.SkippedRows)
	assert.Equal(t, int64(12), sess.Stats.TotalRows)
	assert.Zero(t, sess.Stats.Conflicts, "skipped rows are not name conflicts")

	assert.Equal(t, int64(7), testutil.QueryInt(t, cfg.OutputDB,
		`SELECT row_count FROM merge_metadata WHERE merged_table_name = 'people'`))
	assert.Equal(t, int64(2), testutil.QueryInt(t, cfg.OutputDB, `SELECT COUNT(*) FROM teams`))
	assert.Equal(t, int64(3), testutil.QueryInt(t, cfg.OutputDB, `SELECT COUNT(*) FROM animals`))

	assert.Equal(t, int64(1), testutil.QueryInt(t, cfg.OutputDB,
		`SELECT COUNT(*) FROM merge_conflicts WHERE conflict_type = ? AND resolution_method = ? AND table_name = 'people'`,
		ConflictRowIntegrity, ResolutionSkipRow))

	skips := logs.FilterMessage("skipped row").All()
	assert.Len(t, skips, 3)
	for _, e := range skips {
		assert.Equal(t, "people", e.ContextMap()["table"])
	}
	assertRowCountFidelity(t, cfg.OutputDB)
}

func TestMergeCorruptSource(t *testing.T) {
	input := t.TempDir()
	testutil.WriteFile(t, input, filepath.Join("broken", "broken.sqlite"), strings.Repeat("this is not a database\n", 100))
	testutil.CreateDatabase(t, filepath.Join(input, "good", "good.sqlite"),
		`CREATE TABLE t (a INTEGER)`,
		`INSERT INTO t VALUES (1), (2), (3)`,
	)

	cfg := newConfig(t, input)
	sess, _ := runMerge(t, cfg)

	assert.Equal(t, Statistics{
		TotalDatabases:   2,
		SuccessfulMerges: 1,
		FailedMerges:     1,
		TotalTables:      1,
		TotalRows:        3,
	}, sess.Stats)
	require.Len(t, sess.Failures, 1)
	assert.Equal(t, "broken", sess.Failures[0].Name)

	reports, err := filepath.Glob(filepath.Join(cfg.ReportDir, "merge_report_*.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	data, err := os.ReadFile(reports[0])
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, sess.RunID, report.RunID)
	assert.Equal(t, sess.Stats, report.Stats)
	assert.Equal(t, cfg.OutputDB, report.OutputDatabase)
	require.Len(t, report.FailedSources, 1)
	assert.Contains(t, report.FailedSources[0].Error, ErrSourceUnreadable.Error())
	assert.Equal(t, []SourceTableCount{{SourceDatabase: "good", TableCount: 1, TotalRows: 3}}, report.TopSources)
	assert.Contains(t, string(data), `"failed_merges": 1`)
}

func TestMergeExcludesAuditTablesOnRemerge(t *testing.T) {
	first := newConfig(t, schoolInput(t))
	runMerge(t, first)

	second := newConfig(t, filepath.Dir(first.OutputDB))
	sess, _ := runMerge(t, second)

	assert.Equal(t, 1, sess.Stats.TotalDatabases)
	assert.Equal(t, 3, sess.Stats.TotalTables)
	assert.Zero(t, sess.Stats.Conflicts)
	assert.Equal(t, []string{"beta_students", "courses", "merge_conflicts", "merge_metadata", "students"},
		testutil.TableNames(t, second.OutputDB))
	assert.Equal(t, int64(0), testutil.QueryInt(t, second.OutputDB,
		`SELECT COUNT(*) FROM merge_metadata WHERE original_table_name IN ('merge_metadata', 'merge_conflicts')`))
	assertRowCountFidelity(t, second.OutputDB)
}

func TestMergeOutputInsideInput(t *testing.T) {
	input := schoolInput(t)
	cfg := newConfig(t, input)
	cfg.OutputDB = filepath.Join(input, "out", "merged.sqlite")
	testutil.CreateDatabase(t, cfg.OutputDB, `CREATE TABLE stale (a)`)

	sess, _ := runMerge(t, cfg)

	assert.Equal(t, 2, sess.Stats.TotalDatabases)
	assert.NotContains(t, testutil.TableNames(t, cfg.OutputDB), "stale")
}

func TestMergeTableCreationFailure(t *testing.T) {
	ctx := context.Background()
	input := schoolInput(t)
	src := NewSource(filepath.Join(input, "beta", "school.sqlite"))
	table := extractTable(t, src.Path, "students")

	m := New(newConfig(t, input), zap.NewNop())
	target, conn, err := m.openTarget(ctx)
	require.NoError(t, err)
	defer target.Close()
	defer conn.Close()

	sess := NewSession(time.Now())
	require.NoError(t, seedNames(ctx, conn, sess.names))

	// Present in the target but unknown to the session
	_, err = conn.ExecContext(ctx, `CREATE TABLE students (x)`)
	require.NoError(t, err)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	n, ok, err := m.mergeTable(ctx, tx, sess, src, table)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Equal(t, 1, sess.Stats.FailedTables)
	assert.Empty(t, sess.Mappings)
	require.Len(t, sess.Conflicts, 1)
	assert.Equal(t, ConflictCreateFailed, sess.Conflicts[0].Type)
	assert.Equal(t, ResolutionSkipTable, sess.Conflicts[0].Resolution)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM merge_conflicts WHERE conflict_type = ?`, ConflictCreateFailed).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMergeFatalErrors(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		cfg := newConfig(t, filepath.Join(t.TempDir(), "nope"))
		sess, err := New(cfg, zap.NewNop()).Run(context.Background())
		require.Error(t, err)
		assert.Nil(t, sess)
		assert.NoFileExists(t, cfg.OutputDB)
	})

	t.Run("input is a file", func(t *testing.T) {
		cfg := newConfig(t, testutil.WriteFile(t, t.TempDir(), "corpus.sqlite", "x"))
		testutil.WriteFile(t, filepath.Dir(cfg.OutputDB), filepath.Base(cfg.OutputDB), "previous run")

		sess, err := New(cfg, zap.NewNop()).Run(context.Background())
		require.ErrorContains(t, err, "not a directory")
		assert.Nil(t, sess)

		data, err := os.ReadFile(cfg.OutputDB)
		require.NoError(t, err)
		assert.Equal(t, "previous run", string(data))
	})

	t.Run("unwritable output", func(t *testing.T) {
		cfg := newConfig(t, schoolInput(t))
		blocker := testutil.WriteFile(t, t.TempDir(), "file", "x")
		cfg.OutputDB = filepath.Join(blocker, "merged.sqlite")

		_, err := New(cfg, zap.NewNop()).Run(context.Background())
		assert.ErrorIs(t, err, ErrOutputPath)
	})
}

func TestMergeKeepsIdentifierDefaults(t *testing.T) {
	input := t.TempDir()
	testutil.CreateDatabase(t, filepath.Join(input, "shop", "shop.sqlite"),
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, status TEXT DEFAULT active)`,
		`INSERT INTO orders (id) VALUES (1)`,
	)
	cfg := newConfig(t, input)

	sess, _ := runMerge(t, cfg)

	assert.Equal(t, 1, sess.Stats.TotalTables)
	assert.Zero(t, sess.Stats.FailedTables)
	require.Len(t, sess.Mappings, 1)
	assert.Equal(t, int64(1), sess.Mappings[0].RowCount)
	assert.Equal(t, int64(1), testutil.QueryInt(t, cfg.OutputDB, `SELECT COUNT(*) FROM orders WHERE status = 'active'`))

	conn := testutil.Open(t, cfg.OutputDB)
	_, err := conn.Exec(`INSERT INTO orders (id) VALUES (2)`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), testutil.QueryInt(t, cfg.OutputDB, `SELECT COUNT(*) FROM orders WHERE status = 'active'`))
}
