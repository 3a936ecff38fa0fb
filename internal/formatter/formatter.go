package formatter

import (
	"fmt"
	"io"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// Output formats
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatSQL      = "sql"
)

// Formatter renders a schema
type Formatter interface {
	Format(s *schema.Schema) error
}

// New returns the formatter for format writing to w
func New(format string, w io.Writer) (Formatter, error) {
	switch format {
	case FormatText:
		return NewTextFormatter(w), nil
	case FormatMarkdown:
		return NewMarkdownFormatter(w), nil
	case FormatSQL:
		return NewSQLFormatter(w), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (use text, markdown, or sql)", format)
	}
}

// relationActions renders the non-default ON UPDATE / ON DELETE actions
func relationActions(rel schema.Relation) string {
	var s string
	if rel.OnUpdate != "" && rel.OnUpdate != "NO ACTION" {
		s += " ON UPDATE " + rel.OnUpdate
	}
	if rel.OnDelete != "" && rel.OnDelete != "NO ACTION" {
		s += " ON DELETE " + rel.OnDelete
	}
	return s
}
