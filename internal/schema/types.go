package schema

// Schema represents the catalog of one SQLite database
type Schema struct {
	Tables []Table

	// Omitted lists tables whose catalog queries failed. They are not in Tables.
	Omitted []OmittedTable
}

// Table represents a database table, columns in declaration order
type Table struct {
	Name      string
	Columns   []Column
	Relations []Relation
	Indexes   []Index
}

// Column represents a table column as reported by PRAGMA table_info
type Column struct {
	Name         string
	Type         string
	NotNull      bool
	DefaultValue *string
	PrimaryKey   int // 0 = not part of the key, 1+ = position in the key
	IsUnique     bool
}

// Relation represents a foreign key reference
type Relation struct {
	ID           int
	SourceColumn string
	TargetTable  string
	TargetColumn string
	OnUpdate     string
	OnDelete     string
}

// Index represents a database index
type Index struct {
	Name     string
	Columns  []string
	IsUnique bool
	Origin   string // c = CREATE INDEX, u = UNIQUE constraint, pk = PRIMARY KEY
}

// OmittedTable records a table the extractor had to leave out
type OmittedTable struct {
	Name string
	Err  error
}

// ColumnNames returns the column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey returns the key columns ordered by key position
func (t *Table) PrimaryKey() []string {
	var keyed []Column
	for _, c := range t.Columns {
		if c.PrimaryKey > 0 {
			keyed = append(keyed, c)
		}
	}
	pk := make([]string, len(keyed))
	for _, c := range keyed {
		if c.PrimaryKey <= len(pk) {
			pk[c.PrimaryKey-1] = c.Name
		}
	}
	return pk
}

// TableNames returns table names in catalog order
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
