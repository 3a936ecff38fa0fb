package analyze

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/testutil"
)

func TestScanDatabases(t *testing.T) {
	root := t.TempDir()
	testutil.CreateDatabase(t, filepath.Join(root, "concert_singer", "concert_singer.sqlite"),
		`CREATE TABLE singer (singer_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, age INT)`,
		`INSERT INTO singer (name, age) VALUES ('Joe', 52), ('Rose', 41)`,
		`CREATE TABLE concert (concert_id INT, theme VARCHAR(40))`,
	)
	testutil.CreateDatabase(t, filepath.Join(root, "pets_1", "pets_1.sqlite"),
		`CREATE TABLE pets (id INT)`,
	)
	testutil.WriteFile(t, root, filepath.Join("broken", "broken.sqlite"), strings.Repeat("garbage ", 200))
	testutil.WriteFile(t, root, filepath.Join("pets_1", "notes.txt"), "not scanned")

	entries, err := ScanDatabases(context.Background(), root, ".sqlite", zap.NewNop())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, filepath.Join("broken", "broken.sqlite"), entries[0].RelPath)
	assert.Equal(t, StatusError, entries[0].Analysis.Status)
	assert.NotEmpty(t, entries[0].Analysis.Error)

	singer := entries[1]
	assert.Equal(t, "concert_singer", singer.DatabaseName)
	assert.Equal(t, []string{"singer", "concert"}, singer.Analysis.TableNames, "sqlite_sequence is internal")
	want := TableInfo{
		RowCount:    2,
		ColumnCount: 3,
		Columns:     []ColumnInfo{{"singer_id", "INTEGER"}, {"name", "TEXT"}, {"age", "INT"}},
	}
	if diff := cmp.Diff(want, singer.Analysis.TableInfo["singer"]); diff != "" {
		t.Errorf("singer info mismatch (-want +got):\n%s", diff)
	}

	s := Summarize(entries)
	assert.Equal(t, 3, s.TotalDatabases)
	assert.Equal(t, 2, s.SuccessfulDatabases)
	assert.Equal(t, 3, s.TotalTables)
	assert.InDelta(t, 1.5, s.AverageTables, 1e-9)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, s.Distribution)
	assert.Equal(t, &Extreme{DatabaseName: "concert_singer", TableCount: 2}, s.Largest)
	assert.Equal(t, &Extreme{DatabaseName: "pets_1", TableCount: 1}, s.Smallest)

	out := filepath.Join(t.TempDir(), DefaultReportFile)
	require.NoError(t, WriteJSON(out, entries))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var decoded map[string]Entry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)
	assert.Equal(t, int64(2), decoded[filepath.Join("concert_singer", "concert_singer.sqlite")].Analysis.TableInfo["singer"].RowCount)
}

func TestScanDatabasesMissingRoot(t *testing.T) {
	_, err := ScanDatabases(context.Background(), filepath.Join(t.TempDir(), "nope"), ".sqlite", zap.NewNop())
	assert.Error(t, err)
}

func TestParseSchemaSQL(t *testing.T) {
	script := `
PRAGMA foreign_keys = ON;
CREATE TABLE "singer" (
  "Singer_ID" int,
  PRIMARY KEY ("Singer_ID")
);
create table concert(id int);
CREATE TABLE IF NOT EXISTS ` + "`stadium`" + ` (id int);
CREATE TEMP TABLE [scratch pad] (x);
CREATE TABLE "odd""name" (x);
CREATE TABLE copy AS SELECT * FROM concert;
INSERT INTO singer VALUES (1);
`
	assert.Equal(t, []string{"singer", "concert", "stadium", "scratch pad", `odd"name`}, ParseSchemaSQL(script))
	assert.Equal(t, []string{}, ParseSchemaSQL("-- empty"))
}

func TestScanSchemaFilesAndCSV(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, filepath.Join("b_db", "schema.sql"), `CREATE TABLE a (x); CREATE TABLE b (y);`)
	testutil.WriteFile(t, root, filepath.Join("a_db", "schema.sql"), `CREATE TABLE only (x);`)
	testutil.WriteFile(t, root, filepath.Join("a_db", "other.sql"), `CREATE TABLE ignored (x);`)

	entries, err := ScanSchemaFiles(root, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a_db", entries[0].DatabaseName)
	assert.Equal(t, []string{"a", "b"}, entries[1].Analysis.TableNames)

	out := filepath.Join(t.TempDir(), DefaultCSVFile)
	require.NoError(t, WriteCSV(out, entries))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"database", "table_count", "table_names"},
		{"a_db", "1", "only"},
		{"b_db", "2", "a; b"},
	}, records)
}

func TestSummaryWrite(t *testing.T) {
	entries := []Entry{
		{DatabaseName: "x", Analysis: Analysis{TableCount: 3, TableNames: []string{"a", "b", "c"}, Status: StatusSuccess}},
		{DatabaseName: "y", Analysis: Analysis{Status: StatusError, Error: "boom"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Summarize(entries).Write(&buf))
	assert.Contains(t, buf.String(), "Total databases: 2")
	assert.Contains(t, buf.String(), "Average tables per database: 3.00")
	assert.Contains(t, buf.String(), "3 tables: 1 databases")
	assert.Contains(t, buf.String(), "Most tables: x (3)")

	buf.Reset()
	require.NoError(t, WriteListing(&buf, entries, 2))
	assert.Contains(t, buf.String(), "a, b ... (+1)")
	assert.NotContains(t, buf.String(), "y")

	buf.Reset()
	require.NoError(t, Summarize(nil).Write(&buf))
	assert.Contains(t, buf.String(), "N/A")
}
