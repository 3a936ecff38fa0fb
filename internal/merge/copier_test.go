package merge

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/testutil"
)

// quotedRows renders every row of table as quote()d values joined by |
func quotedRows(t *testing.T, path, table string, columns []string) []string {
	t.Helper()

	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = fmt.Sprintf("quote(%q)", c)
	}
	query := fmt.Sprintf("SELECT %s FROM %q ORDER BY rowid", strings.Join(exprs, " || '|' || "), table)

	rows, err := testutil.Open(t, path).Query(query)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func openTarget(t *testing.T, statements ...string) (string, *sql.DB) {
	t.Helper()
	path := testutil.CreateDatabase(t, filepath.Join(t.TempDir(), "target.sqlite"), statements...)
	target, err := sql.Open(db.DriverName, path)
	require.NoError(t, err)
	target.SetMaxOpenConns(1)
	t.Cleanup(func() { target.Close() })
	return path, target
}

func TestCopyRowsLossless(t *testing.T) {
	ctx := context.Background()
	src := testutil.CreateDatabase(t, filepath.Join(t.TempDir(), "events", "events.sqlite"),
		`CREATE TABLE events (id INTEGER PRIMARY KEY, happened DATETIME, flag BOOLEAN, payload BLOB, score REAL, note TEXT)`,
		`INSERT INTO events VALUES (1, '2020/1/1', 'yes', x'00ff10', 1.5, NULL)`,
		`INSERT INTO events VALUES (2, '2021-03-04 05:06:07', 1, NULL, 2, 'ok')`,
		`INSERT INTO events VALUES (3, 17, 0, x'7f', -0.25, 'ünïcode')`,
	)

	client, err := db.NewSQLiteClient(ctx, src)
	require.NoError(t, err)
	s, err := db.NewSQLiteExtractor(client).ExtractSchema(ctx, nil)
	require.NoError(t, client.Close())
	require.NoError(t, err)
	table := testutil.FindTable(t, s, "events")

	targetPath, target := openTarget(t)
	require.NoError(t, Materialize(ctx, target, "events_copy", table))

	res, err := NewRowCopier(zap.NewNop()).CopyRows(ctx, src, "events", table.ColumnNames(), target, "events_copy")
	require.NoError(t, err)
	assert.Equal(t, CopyResult{Inserted: 3}, res)

	cols := table.ColumnNames()
	want := quotedRows(t, src, "events", cols)
	got := quotedRows(t, targetPath, "events_copy", cols)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("copied rows differ (-source +target):\n%s", diff)
	}
	assert.Equal(t, "'2020/1/1'|'yes'", strings.Join(strings.Split(got[0], "|")[1:3], "|"))
}

func TestCopyRowsSkipsIntegrityViolations(t *testing.T) {
	ctx := context.Background()

	stmts := []string{`CREATE TABLE people (id INTEGER, name TEXT)`}
	for i := 1; i <= 10; i++ {
		name := fmt.Sprintf("'p%d'", i)
		if i%3 == 0 {
			name = "NULL"
		}
		stmts = append(stmts, fmt.Sprintf("INSERT INTO people VALUES (%d, %s)", i, name))
	}
	src := testutil.CreateDatabase(t, filepath.Join(t.TempDir(), "hr", "hr.sqlite"), stmts...)

	targetPath, target := openTarget(t, `CREATE TABLE people (id INTEGER, name TEXT NOT NULL)`)

	core, logs := observer.New(zap.DebugLevel)
	res, err := NewRowCopier(zap.New(core)).CopyRows(ctx, src, "people", []string{"id", "name"}, target, "people")
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Inserted)
	assert.Equal(t, int64(3), res.Skipped)
	assert.Contains(t, res.FirstCause, "NOT NULL")
	assert.Equal(t, int64(7), testutil.QueryInt(t, targetPath, `SELECT COUNT(*) FROM people`))
	assert.Equal(t, 3, logs.FilterMessage("skipped row").Len())
	assert.Zero(t, logs.FilterMessage("further skipped rows not logged").Len())
}

func TestCopyRowsBoundsSkipLogging(t *testing.T) {
	ctx := context.Background()

	stmts := []string{`CREATE TABLE codes (code TEXT)`}
	for i := 0; i < 8; i++ {
		stmts = append(stmts, `INSERT INTO codes VALUES ('dup')`)
	}
	src := testutil.CreateDatabase(t, filepath.Join(t.TempDir(), "c", "c.sqlite"), stmts...)
	_, target := openTarget(t, `CREATE TABLE codes (code TEXT PRIMARY KEY)`)

	core, logs := observer.New(zap.DebugLevel)
	res, err := NewRowCopier(zap.New(core)).CopyRows(ctx, src, "codes", []string{"code"}, target, "codes")
	require.NoError(t, err)

	assert.Equal(t, CopyResult{Inserted: 1, Skipped: 7, FirstCause: res.FirstCause}, res)
	assert.Equal(t, maxLoggedSkips, logs.FilterMessage("skipped row").Len())

	summary := logs.FilterMessage("further skipped rows not logged").All()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].ContextMap()["unlogged"])
}

func TestCopyRowsAbortsOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	src := testutil.CreateDatabase(t, filepath.Join(t.TempDir(), "docs", "docs.sqlite"),
		`CREATE TABLE docs (id INTEGER, body TEXT)`,
		`INSERT INTO docs VALUES (1, '{}'), (2, '[]'), (3, '{'), (4, '{}')`,
	)
	targetPath, target := openTarget(t,
		`CREATE TABLE docs (id INTEGER, body TEXT)`,
		`CREATE TRIGGER docs_json BEFORE INSERT ON docs BEGIN SELECT json(NEW.body); END`,
	)

	res, err := NewRowCopier(zap.NewNop()).CopyRows(ctx, src, "docs", []string{"id", "body"}, target, "docs")
	require.Error(t, err)
	assert.Equal(t, int64(2), res.Inserted, "rows before the failure stay")
	assert.Zero(t, res.Skipped)
	assert.Equal(t, int64(2), testutil.QueryInt(t, targetPath, `SELECT COUNT(*) FROM docs`))
}

func TestCopyRowsMissingSource(t *testing.T) {
	_, target := openTarget(t, `CREATE TABLE t (a)`)

	_, err := NewRowCopier(zap.NewNop()).CopyRows(context.Background(),
		filepath.Join(t.TempDir(), "missing.sqlite"), "t", []string{"a"}, target, "t")
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestCopySQL(t *testing.T) {
	assert.Equal(t, `SELECT +"id", +"we""ird" FROM "order"`, selectSQL("order", []string{"id", `we"ird`}))
	assert.Equal(t, `INSERT INTO "order" VALUES (?, ?, ?)`, insertSQL("order", 3))
}
