package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// UpsertSpec describes one bulk upsert target: the table, its insert columns,
// the conflict key, and which columns a conflicting row updates from the
// incoming values. Callers must not repeat a conflict key within one call;
// Postgres rejects in-statement duplicates.
type UpsertSpec struct {
	Table           string
	Columns         []string
	ConflictColumns []string
	UpdateColumns   []string
}

// maxBindVars keeps batches under SQLite's historical 999-variable limit.
const maxBindVars = 900

// BulkUpsert writes rows in placeholder-bounded batches inside the caller's
// transaction. Row order within the slice is preserved.
func BulkUpsert(ctx context.Context, tx *sql.Tx, spec UpsertSpec, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch := maxBindVars / len(spec.Columns)
	if batch < 1 {
		batch = 1
	}
	if batch > 500 {
		batch = 500
	}
	for start := 0; start < len(rows); start += batch {
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		if err := execBatch(ctx, tx, spec, rows[start:end]); err != nil {
			return fmt.Errorf("upsert %s: %w", spec.Table, err)
		}
	}
	return nil
}

func execBatch(ctx context.Context, tx *sql.Tx, spec UpsertSpec, rows [][]any) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		spec.Table, strings.Join(spec.Columns, ", "))

	args := make([]any, 0, len(rows)*len(spec.Columns))
	ph := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range spec.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", ph)
			ph++
			args = append(args, row[j])
		}
		sb.WriteByte(')')
	}

	if len(spec.ConflictColumns) > 0 {
		fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(spec.ConflictColumns, ", "))
		if len(spec.UpdateColumns) == 0 {
			sb.WriteString(" DO NOTHING")
		} else {
			sb.WriteString(" DO UPDATE SET ")
			for i, col := range spec.UpdateColumns {
				if i > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "%s = excluded.%s", col, col)
			}
		}
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}
