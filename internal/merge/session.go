package merge

import (
	"time"

	"github.com/google/uuid"
)

// Conflict types and resolutions written to merge_conflicts
const (
	ConflictNameCollision  = "table_name_collision"
	ConflictCreateFailed   = "table_creation_failed"
	ConflictRowIntegrity   = "row_integrity_violation"
	ResolutionPrefixDBName = "prefix_with_db_name"
	ResolutionSkipTable    = "skip_table"
	ResolutionSkipRow      = "skip_row"
)

// Statistics are the run counters. They are rebuilt from zero every run.
type Statistics struct {
	TotalDatabases   int   `json:"total_databases"`
	SuccessfulMerges int   `json:"successful_merges"`
	FailedMerges     int   `json:"failed_merges"`
	TotalTables      int   `json:"total_tables"`
	TotalRows        int64 `json:"total_rows"`
	Conflicts        int   `json:"conflicts"`
	FailedTables     int   `json:"failed_tables"`
	SkippedRows      int64 `json:"skipped_rows"`
}

// Mapping is the provenance of one created target table (a merge_metadata row)
type Mapping struct {
	SourceDatabase string
	OriginalTable  string
	MergedTable    string
	RowCount       int64
	Timestamp      time.Time
	Notes          string
}

// ConflictRecord is one merge_conflicts row
type ConflictRecord struct {
	Type           string
	SourceDatabase string
	TableName      string
	Description    string
	Resolution     string
	Timestamp      time.Time
}

// Resolution describes how a renamed target table got its name
type Resolution struct {
	OriginalTable  string `json:"original_table"`
	SourceDatabase string `json:"source_database"`
	Method         string `json:"resolution_method"`
}

// SourceFailure records a source database that did not merge cleanly
type SourceFailure struct {
	Path  string `json:"path"`
	Name  string `json:"source_database"`
	Error string `json:"error"`
}

// Session is the state of one merge run. Each stage takes the session and
// records its outcome on it; nothing else holds run state.
type Session struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Stats       Statistics
	Mappings    []Mapping
	Conflicts   []ConflictRecord
	Resolutions map[string]Resolution
	Failures    []SourceFailure

	names NameSet
}

// NewSession starts an empty session
func NewSession(startedAt time.Time) *Session {
	return &Session{
		RunID:       uuid.NewString(),
		StartedAt:   startedAt,
		Resolutions: make(map[string]Resolution),
		names:       NewNameSet(),
	}
}

func (s *Session) fail(src Source, err error) {
	s.Stats.FailedMerges++
	s.Failures = append(s.Failures, SourceFailure{Path: src.Path, Name: src.Name, Error: err.Error()})
}
