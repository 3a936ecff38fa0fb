package formatter

import (
	"fmt"
	"io"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// SQLFormatter writes each table as the CREATE TABLE statement the merge
// would use to reproduce it
type SQLFormatter struct {
	writer io.Writer
}

// NewSQLFormatter creates a new SQL formatter
func NewSQLFormatter(w io.Writer) *SQLFormatter {
	return &SQLFormatter{writer: w}
}

// Format writes one statement per table, separated by blank lines
func (f *SQLFormatter) Format(s *schema.Schema) error {
	for i := range s.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer)
		}
		f.FormatTable(s.Tables[i])
	}
	return nil
}

// FormatTable writes a single CREATE TABLE statement
func (f *SQLFormatter) FormatTable(table schema.Table) {
	_, _ = fmt.Fprintf(f.writer, "%s;\n", schema.CreateTableSQL(table.Name, &table))
}
