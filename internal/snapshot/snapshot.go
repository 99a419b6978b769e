// Package snapshot computes table-level row counts and order-stable content
// fingerprints, and copies data between the SQLite and PostgreSQL backends.
// The value normalization exists so that logically-identical data fingerprints
// identically on both engines despite their different native formatting.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultChunkSize bounds how many rows are materialized at once while
// fingerprinting or copying.
const DefaultChunkSize = 500

// TableSnapshot describes one table at a point in time.
type TableSnapshot struct {
	Table       string   `json:"table"`
	RowCount    int64    `json:"row_count"`
	Columns     []string `json:"columns"`
	OrderColumn string   `json:"order_column"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// Options controls snapshot depth.
type Options struct {
	ChunkSize   int
	Fingerprint bool
}

func (o Options) chunk() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultChunkSize
}

// Snapshot captures every listed table on the given connection.
func Snapshot(ctx context.Context, dbh *sql.DB, tables []string, opts Options) ([]TableSnapshot, error) {
	out := make([]TableSnapshot, 0, len(tables))
	for _, t := range tables {
		ts, err := snapshotTable(ctx, dbh, t, opts)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", t, err)
		}
		out = append(out, ts)
	}
	return out, nil
}

func snapshotTable(ctx context.Context, dbh *sql.DB, table string, opts Options) (TableSnapshot, error) {
	ts := TableSnapshot{Table: table}

	cols, dbTypes, err := tableColumns(ctx, dbh, table)
	if err != nil {
		return ts, err
	}
	ts.Columns = cols
	ts.OrderColumn = orderColumn(cols)

	if err := dbh.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&ts.RowCount); err != nil {
		return ts, err
	}

	if opts.Fingerprint {
		fp, err := fingerprint(ctx, dbh, table, cols, dbTypes, ts.OrderColumn, opts.chunk())
		if err != nil {
			return ts, err
		}
		ts.Fingerprint = fp
	}
	return ts, nil
}

func tableColumns(ctx context.Context, dbh *sql.DB, table string) ([]string, map[string]string, error) {
	rows, err := dbh.QueryContext(ctx, "SELECT * FROM "+table+" WHERE 1=0")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	dbTypes := map[string]string{}
	if cts, err := rows.ColumnTypes(); err == nil {
		for _, ct := range cts {
			dbTypes[ct.Name()] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}
	return cols, dbTypes, nil
}

// orderColumn picks the deterministic ordering column: id, then created_at,
// then updated_at, then the first column.
func orderColumn(cols []string) string {
	for _, want := range []string{"id", "created_at", "updated_at"} {
		for _, c := range cols {
			if c == want {
				return c
			}
		}
	}
	if len(cols) > 0 {
		return cols[0]
	}
	return ""
}

// fingerprint pages through the table in fixed-size chunks ordered by the
// chosen column, JSON-encodes each row over sorted column names with
// normalized values, and feeds the lines into one running SHA-256.
func fingerprint(ctx context.Context, dbh *sql.DB, table string, cols []string, dbTypes map[string]string, orderCol string, chunk int) (string, error) {
	h := sha256.New()
	colList := strings.Join(cols, ", ")
	for offset := 0; ; offset += chunk {
		q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
			colList, table, orderCol, chunk, offset)
		n, err := hashChunk(ctx, dbh, q, cols, dbTypes, h)
		if err != nil {
			return "", err
		}
		if n < chunk {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashChunk(ctx context.Context, dbh *sql.DB, query string, cols []string, dbTypes map[string]string, h interface{ Write([]byte) (int, error) }) (int, error) {
	rows, err := dbh.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		// Maps marshal with sorted keys, which gives the stable key order
		// the cross-engine comparison depends on.
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = normalizeValue(vals[i], dbTypes[c])
		}
		line, err := json.Marshal(m)
		if err != nil {
			return n, err
		}
		if _, err := h.Write(append(line, '\n')); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// normalizeValue renders a driver value the same way regardless of engine:
// booleans become "0"/"1", integers decimal strings, floats trimmed decimal
// strings, date-at-midnight timestamps date-only, full timestamps a canonical
// "2006-01-02 15:04:05". NULL stays null.
func normalizeValue(v any, dbType string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int64:
		if isBoolType(dbType) {
			if t != 0 {
				return "1"
			}
			return "0"
		}
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		u := t.UTC()
		if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
			return u.Format("2006-01-02")
		}
		return u.Format("2006-01-02 15:04:05")
	case []byte:
		return normalizeString(string(t), dbType)
	case string:
		return normalizeString(t, dbType)
	default:
		return fmt.Sprint(t)
	}
}

// normalizeString reconciles values whose driver type erased the column type:
// pg NUMERIC arrives as text like "1.50", sqlite may hand back "1.5".
func normalizeString(s string, dbType string) string {
	if isNumericType(dbType) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	if isBoolType(dbType) {
		switch strings.ToLower(s) {
		case "true", "t", "1":
			return "1"
		case "false", "f", "0":
			return "0"
		}
	}
	return s
}

func isNumericType(dbType string) bool {
	switch dbType {
	case "NUMERIC", "DECIMAL", "REAL", "FLOAT", "DOUBLE", "DOUBLE PRECISION", "FLOAT4", "FLOAT8":
		return true
	}
	return false
}

func isBoolType(dbType string) bool {
	return dbType == "BOOL" || dbType == "BOOLEAN"
}
