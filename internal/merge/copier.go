package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/db"
	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// maxLoggedSkips bounds how many skipped rows are logged per table
const maxLoggedSkips = 5

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// CopyResult summarizes one table copy
type CopyResult struct {
	Inserted int64
	Skipped  int64
	// FirstCause is the error text of the first skipped row.
	FirstCause string
}

// RowCopier streams rows from a source table into a target table
type RowCopier struct {
	logger *zap.Logger
}

// NewRowCopier returns a copier logging to logger
func NewRowCopier(logger *zap.Logger) *RowCopier {
	return &RowCopier{logger: logger}
}

// CopyRows copies every row of sourceTable into targetTable. The insert is
// positional, so the target's columns must be exactly columns, in order.
//
// The source is opened on a connection of its own that is closed before
// CopyRows returns. Rows rejected by a constraint or a datatype mismatch are
// skipped and counted; any other insert error stops the copy. Rows inserted
// before the error stay, and the returned result counts them.
func (c *RowCopier) CopyRows(ctx context.Context, sourcePath, sourceTable string, columns []string, target preparer, targetTable string) (CopyResult, error) {
	var res CopyResult

	client, err := db.NewSQLiteClient(ctx, sourcePath)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer client.Close()

	stmt, err := target.PrepareContext(ctx, insertSQL(targetTable, len(columns)))
	if err != nil {
		return res, fmt.Errorf("failed to prepare insert into %s: %w", targetTable, err)
	}
	defer stmt.Close()

	rows, err := client.GetDB().QueryContext(ctx, selectSQL(sourceTable, columns))
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", sourceTable, err)
	}
	defer rows.Close()

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return res, fmt.Errorf("failed to scan row of %s: %w", sourceTable, err)
		}

		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			if !isRowIntegrity(err) {
				return res, fmt.Errorf("failed to insert into %s: %w", targetTable, err)
			}
			res.Skipped++
			if res.Skipped == 1 {
				res.FirstCause = err.Error()
			}
			if res.Skipped <= maxLoggedSkips {
				c.logger.Warn("skipped row",
					zap.String("table", targetTable),
					zap.Int64("skip", res.Skipped),
					zap.Error(err))
			}
			continue
		}
		res.Inserted++
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("failed to read %s: %w", sourceTable, err)
	}

	if res.Skipped > maxLoggedSkips {
		c.logger.Warn("further skipped rows not logged",
			zap.String("table", targetTable),
			zap.Int64("unlogged", res.Skipped-maxLoggedSkips))
	}
	return res, nil
}

// selectSQL reads columns in order. The unary plus drops each column's
// declared type so the driver hands back stored values unconverted.
func selectSQL(table string, columns []string) string {
	exprs := make([]string, len(columns))
	for i, col := range columns {
		exprs[i] = "+" + schema.QuoteIdent(col)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), schema.QuoteIdent(table))
}

func insertSQL(table string, n int) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", schema.QuoteIdent(table), marks)
}
