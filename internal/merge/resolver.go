package merge

import (
	"strconv"
	"strings"
)

// DefaultMaxNameLen bounds generated table names, in characters
const DefaultMaxNameLen = 50

// NameSet holds the table names already taken in the target. SQLite folds
// ASCII case in identifiers, so lookups do too.
type NameSet map[string]struct{}

// NewNameSet returns a set holding names
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add claims name
func (s NameSet) Add(name string) {
	s[foldASCII(name)] = struct{}{}
}

// Has reports whether name is taken
func (s NameSet) Has(name string) bool {
	_, ok := s[foldASCII(name)]
	return ok
}

func foldASCII(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, name)
}

// Resolver picks a unique target name for a source table
type Resolver struct {
	// MaxLen caps generated names in characters. Zero means DefaultMaxNameLen.
	MaxLen int
}

// Resolve returns original when it is free. Otherwise it prefixes the source
// database name, truncating both parts when the result exceeds MaxLen (about
// half the budget minus five goes to the database part), and appends _1, _2,
// ... until the name is free. Generated names never exceed MaxLen.
//
// Resolution is first-claimant-wins, so the outcome depends on the order
// sources and tables are processed in.
func (r Resolver) Resolve(original, sourceDB string, existing NameSet) string {
	if !existing.Has(original) {
		return original
	}

	maxLen := r.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLen
	}

	dbPart, tablePart := []rune(sourceDB), []rune(original)
	if len(dbPart)+1+len(tablePart) > maxLen {
		maxDB := max(1, maxLen/2-5)
		if len(dbPart) > maxDB {
			dbPart = dbPart[:maxDB]
		}
		maxTable := max(1, maxLen-len(dbPart)-1)
		if len(tablePart) > maxTable {
			tablePart = tablePart[:maxTable]
		}
	}

	base := string(dbPart) + "_" + string(tablePart)
	if !existing.Has(base) {
		return base
	}

	for n := 1; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate := truncateRunes(base, maxLen-len(suffix)) + suffix
		if !existing.Has(candidate) {
			return candidate
		}
	}
}

// truncateRunes cuts s to at most n characters, keeping at least one
func truncateRunes(s string, n int) string {
	n = max(1, n)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
