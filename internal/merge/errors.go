package merge

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Failure kinds. Only ErrOutputPath aborts a run; the others skip one
// source, table or row and the merge carries on.
var (
	ErrSourceUnreadable    = errors.New("source database unreadable")
	ErrSchemaIntrospection = errors.New("schema introspection failed")
	ErrTableCreation       = errors.New("table creation failed")
	ErrRowIntegrity        = errors.New("row integrity violation")
	ErrOutputPath          = errors.New("output path error")
)

// isRowIntegrity reports whether an INSERT failed on the row's own data
// (constraint or datatype mismatch) rather than on the database.
func isRowIntegrity(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint || sqliteErr.Code == sqlite3.ErrMismatch
}
