// Package analyze reports table statistics over a corpus of SQLite
// databases, either by opening each database or by parsing the schema.sql
// files shipped alongside them.
package analyze

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// Analysis status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is the analysis of one database file, keyed by its path relative
// to the scanned root
type Entry struct {
	RelPath      string   `json:"-"`
	DatabaseName string   `json:"database_name"`
	FullPath     string   `json:"full_path"`
	Analysis     Analysis `json:"analysis"`
}

// Analysis holds what could be learned about one database
type Analysis struct {
	TableCount int                  `json:"table_count"`
	TableNames []string             `json:"table_names"`
	TableInfo  map[string]TableInfo `json:"table_info,omitempty"`
	Status     string               `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// TableInfo describes one table of an analyzed database
type TableInfo struct {
	RowCount    int64        `json:"row_count"`
	ColumnCount int          `json:"column_count"`
	Columns     []ColumnInfo `json:"columns"`
}

// ColumnInfo is a column name and its declared type
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OK reports whether the database was analyzed successfully
func (a Analysis) OK() bool {
	return a.Status == StatusSuccess
}

func failed(err error) Analysis {
	return Analysis{TableNames: []string{}, Status: StatusError, Error: err.Error()}
}

// Extreme names the database with the most or the fewest tables
type Extreme struct {
	DatabaseName string `json:"database_name"`
	TableCount   int    `json:"table_count"`
}

// Summary aggregates the entries of one scan
type Summary struct {
	TotalDatabases      int         `json:"total_databases"`
	SuccessfulDatabases int         `json:"successful_databases"`
	TotalTables         int         `json:"total_tables"`
	AverageTables       float64     `json:"average_tables"`
	Distribution        map[int]int `json:"table_distribution"`
	Largest             *Extreme    `json:"largest,omitempty"`
	Smallest            *Extreme    `json:"smallest,omitempty"`
}

// Summarize aggregates entries. Failed entries count toward the total only.
// Ties for largest and smallest go to the first entry in order.
func Summarize(entries []Entry) Summary {
	s := Summary{TotalDatabases: len(entries), Distribution: map[int]int{}}
	for _, e := range entries {
		if !e.Analysis.OK() {
			continue
		}
		n := e.Analysis.TableCount
		s.SuccessfulDatabases++
		s.TotalTables += n
		s.Distribution[n]++

		if s.Largest == nil || n > s.Largest.TableCount {
			s.Largest = &Extreme{DatabaseName: e.DatabaseName, TableCount: n}
		}
		if s.Smallest == nil || n < s.Smallest.TableCount {
			s.Smallest = &Extreme{DatabaseName: e.DatabaseName, TableCount: n}
		}
	}
	if s.SuccessfulDatabases > 0 {
		s.AverageTables = float64(s.TotalTables) / float64(s.SuccessfulDatabases)
	}
	return s
}

// Write prints the summary block
func (s Summary) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Total databases: %d\n", s.TotalDatabases)
	fmt.Fprintf(&b, "Analyzed successfully: %d\n", s.SuccessfulDatabases)
	fmt.Fprintf(&b, "Total tables: %d\n", s.TotalTables)
	if s.SuccessfulDatabases > 0 {
		fmt.Fprintf(&b, "Average tables per database: %.2f\n", s.AverageTables)
	} else {
		b.WriteString("Average tables per database: N/A\n")
	}

	counts := make([]int, 0, len(s.Distribution))
	for n := range s.Distribution {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	b.WriteString("\nTable count distribution:\n")
	for _, n := range counts {
		fmt.Fprintf(&b, "  %d tables: %d databases\n", n, s.Distribution[n])
	}

	if s.Largest != nil {
		fmt.Fprintf(&b, "\nMost tables: %s (%d)\n", s.Largest.DatabaseName, s.Largest.TableCount)
		fmt.Fprintf(&b, "Fewest tables: %s (%d)\n", s.Smallest.DatabaseName, s.Smallest.TableCount)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteListing prints one line per successful entry, showing at most
// maxNames table names each
func WriteListing(w io.Writer, entries []Entry, maxNames int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDATABASE\tTABLES\tNAMES")

	i := 0
	for _, e := range entries {
		if !e.Analysis.OK() {
			continue
		}
		i++
		names := e.Analysis.TableNames
		shown := strings.Join(names[:min(len(names), maxNames)], ", ")
		if len(names) > maxNames {
			shown += fmt.Sprintf(" ... (+%d)", len(names)-maxNames)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, e.DatabaseName, e.Analysis.TableCount, shown)
	}
	return tw.Flush()
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
}
