package schema

import (
	"fmt"
	"regexp"
	"strings"
)

var literalDefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`),
	regexp.MustCompile(`^0[xX][0-9a-fA-F]+$`),
	regexp.MustCompile(`^'([^']|'')*'$`),
	regexp.MustCompile(`^"([^"]|"")*"$`),
	regexp.MustCompile(`^[xX]'[0-9a-fA-F]*'$`),
	regexp.MustCompile(`(?i)^(NULL|TRUE|FALSE|CURRENT_TIME|CURRENT_DATE|CURRENT_TIMESTAMP)$`),
	// A bare identifier default is stored as a string; wrapping it would make it a column reference.
	regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`),
}

// QuoteIdent quotes an SQLite identifier with double quotes
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTableSQL renders a CREATE TABLE statement for t under the given name.
//
// Columns keep their declaration order, declared type, NOT NULL and DEFAULT.
// A single-column primary key is marked inline; a composite key becomes one
// table-level PRIMARY KEY constraint ordered by key position. Foreign keys,
// indexes and CHECK constraints are not reproduced.
func CreateTableSQL(name string, t *Table) string {
	pk := t.PrimaryKey()

	defs := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		defs = append(defs, columnDefinition(col, len(pk) == 1))
	}

	if len(pk) > 1 {
		quoted := make([]string, len(pk))
		for i, c := range pk {
			quoted[i] = QuoteIdent(c)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", QuoteIdent(name), strings.Join(defs, ",\n  "))
}

func columnDefinition(col Column, inlinePK bool) string {
	parts := []string{QuoteIdent(col.Name)}
	if col.Type != "" {
		parts = append(parts, col.Type)
	}
	if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.DefaultValue != nil {
		parts = append(parts, "DEFAULT "+defaultExpr(*col.DefaultValue))
	}
	if inlinePK && col.PrimaryKey > 0 {
		parts = append(parts, "PRIMARY KEY")
	}
	return strings.Join(parts, " ")
}

// defaultExpr returns the default as written, re-wrapping expression defaults
// whose parentheses PRAGMA table_info strips.
func defaultExpr(v string) string {
	v = strings.TrimSpace(v)
	if parenthesized(v) {
		return v
	}
	for _, re := range literalDefaultPatterns {
		if re.MatchString(v) {
			return v
		}
	}
	return "(" + v + ")"
}

// parenthesized reports whether the whole expression sits inside one pair of
// parentheses, ignoring parentheses inside quoted strings.
func parenthesized(v string) bool {
	if !strings.HasPrefix(v, "(") || !strings.HasSuffix(v, ")") {
		return false
	}
	depth := 0
	var quote rune
	for i, r := range v {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 && i != len(v)-1 {
				return false
			}
		}
	}
	return depth == 0
}
