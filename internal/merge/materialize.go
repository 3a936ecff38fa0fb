package merge

import (
	"context"
	"fmt"

	"github.com/yang-zhuang/sqlmerge/internal/schema"
)

// Materialize creates table in the target under name, reproducing its
// columns in source order. Foreign keys are not carried over: once tables
// are renamed into one namespace their references would dangle.
func Materialize(ctx context.Context, x execer, name string, table *schema.Table) error {
	stmt := schema.CreateTableSQL(name, table)
	if _, err := x.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTableCreation, name, err)
	}
	return nil
}
