package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/examstats/zipgrade-pipeline/internal/db"
)

// MigrateOptions controls a source→target copy.
type MigrateOptions struct {
	Tables         []string
	ChunkSize      int
	Fingerprint    bool
	DryRun         bool
	TruncateTarget bool
}

// Mismatch is one structured diff row of the post-migration verification.
// Mismatches are reported, never raised as errors: remediation is the
// caller's decision.
type Mismatch struct {
	Table        string `json:"table"`
	MismatchType string `json:"mismatch_type"` // row_count | fingerprint
	SourceValue  string `json:"source_value"`
	TargetValue  string `json:"target_value"`
}

// Report is the JSON document the migration CLI emits.
type Report struct {
	DryRun         bool            `json:"dry_run"`
	SourceSnapshot []TableSnapshot `json:"source_snapshot"`
	TargetBefore   []TableSnapshot `json:"target_before"`
	TargetAfter    []TableSnapshot `json:"target_after,omitempty"`
	Mismatches     []Mismatch      `json:"mismatches"`
}

// HasMismatches reports whether verification found any difference; the CLI
// maps this to a non-zero exit status.
func (r *Report) HasMismatches() bool { return len(r.Mismatches) > 0 }

// Migrate copies the listed tables from source to target inside a single
// target-side transaction, preserving source row order, then re-snapshots the
// target and reports per-table count/fingerprint differences.
func Migrate(ctx context.Context, source, target *sql.DB, targetDriver db.Driver, opts MigrateOptions) (*Report, error) {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = db.CoreTables
	}
	snapOpts := Options{ChunkSize: opts.ChunkSize, Fingerprint: opts.Fingerprint}

	rep := &Report{DryRun: opts.DryRun, Mismatches: []Mismatch{}}
	var err error
	if rep.SourceSnapshot, err = Snapshot(ctx, source, tables, snapOpts); err != nil {
		return nil, fmt.Errorf("source snapshot: %w", err)
	}
	if rep.TargetBefore, err = Snapshot(ctx, target, tables, snapOpts); err != nil {
		return nil, fmt.Errorf("target snapshot: %w", err)
	}
	if opts.DryRun {
		return rep, nil
	}

	tx, err := target.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if opts.TruncateTarget {
		// Reverse FK order so children go before parents.
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+tables[i]); err != nil {
				return nil, fmt.Errorf("truncate %s: %w", tables[i], err)
			}
		}
	}

	for _, t := range tables {
		if err := copyTable(ctx, source, tx, t, opts.chunkSize()); err != nil {
			return nil, fmt.Errorf("copy %s: %w", t, err)
		}
	}

	if targetDriver == db.DriverPostgres {
		if err := resyncSequences(ctx, tx, tables); err != nil {
			return nil, fmt.Errorf("sequence resync: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if rep.TargetAfter, err = Snapshot(ctx, target, tables, snapOpts); err != nil {
		return nil, fmt.Errorf("verify snapshot: %w", err)
	}
	rep.Mismatches = diff(rep.SourceSnapshot, rep.TargetAfter)
	return rep, nil
}

func (o MigrateOptions) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultChunkSize
}

// copyTable streams source rows in order-column chunks and upserts them on the
// target: by id when the table has one, by email as fallback, else plain
// insert.
func copyTable(ctx context.Context, source *sql.DB, tx *sql.Tx, table string, chunk int) error {
	cols, _, err := tableColumns(ctx, source, table)
	if err != nil {
		return err
	}
	orderCol := orderColumn(cols)
	conflictCol := ""
	for _, c := range cols {
		if c == "id" {
			conflictCol = "id"
			break
		}
		if c == "email" {
			conflictCol = "email"
		}
	}
	insertSQL := buildUpsertSQL(table, cols, conflictCol)
	colList := strings.Join(cols, ", ")

	for offset := 0; ; offset += chunk {
		q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
			colList, table, orderCol, chunk, offset)
		n, err := copyChunk(ctx, source, tx, q, insertSQL, len(cols))
		if err != nil {
			return err
		}
		if n < chunk {
			return nil
		}
	}
}

func copyChunk(ctx context.Context, source *sql.DB, tx *sql.Tx, selectSQL, insertSQL string, ncols int) (int, error) {
	rows, err := source.QueryContext(ctx, selectSQL)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	vals := make([]any, ncols)
	ptrs := make([]any, ncols)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		args := make([]any, ncols)
		copy(args, vals)
		if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func buildUpsertSQL(table string, cols []string, conflictCol string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (", table, strings.Join(cols, ", "))
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("$" + strconv.Itoa(i+1))
	}
	sb.WriteByte(')')
	if conflictCol != "" {
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET ", conflictCol)
		first := true
		for _, c := range cols {
			if c == conflictCol {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s = excluded.%s", c, c)
		}
		if first {
			// Single-column table; nothing to update.
			sb.Reset()
			fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING",
				table, cols[0], conflictCol)
		}
	}
	return sb.String()
}

// resyncSequences realigns BIGSERIAL sequences after explicit-id inserts, so
// the next natural insert on the target does not collide.
func resyncSequences(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, t := range tables {
		var seq sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT pg_get_serial_sequence($1, 'id')`, t).Scan(&seq)
		if err != nil || !seq.Valid {
			continue // no serial id column
		}
		q := fmt.Sprintf(`SELECT setval('%s', COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)`, seq.String, t)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func diff(source, target []TableSnapshot) []Mismatch {
	byTable := make(map[string]TableSnapshot, len(target))
	for _, ts := range target {
		byTable[ts.Table] = ts
	}
	out := []Mismatch{}
	for _, src := range source {
		dst, ok := byTable[src.Table]
		if !ok {
			out = append(out, Mismatch{Table: src.Table, MismatchType: "row_count",
				SourceValue: strconv.FormatInt(src.RowCount, 10), TargetValue: "missing"})
			continue
		}
		if src.RowCount != dst.RowCount {
			out = append(out, Mismatch{Table: src.Table, MismatchType: "row_count",
				SourceValue: strconv.FormatInt(src.RowCount, 10),
				TargetValue: strconv.FormatInt(dst.RowCount, 10)})
		}
		if src.Fingerprint != "" && dst.Fingerprint != "" && src.Fingerprint != dst.Fingerprint {
			out = append(out, Mismatch{Table: src.Table, MismatchType: "fingerprint",
				SourceValue: src.Fingerprint, TargetValue: dst.Fingerprint})
		}
	}
	return out
}
