package snapshot

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/examstats/zipgrade-pipeline/internal/db"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+path)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	dbh.SetMaxOpenConns(1)
	t.Cleanup(func() { dbh.Close() })
	return dbh
}

func seedSource(t *testing.T, dbh *sql.DB) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO academic_years (name, is_active) VALUES ('2024', 0), ('2025', 1)`,
		`INSERT INTO students (external_id, full_name, email) VALUES
		   ('1001', 'Ana', 'ana@example.com'),
		   ('1002', 'Luis', NULL),
		   ('1003', 'Sofia', 'sofia@example.com')`,
		`INSERT INTO enrollments (student_id, academic_year_id, grade_group, is_piar) VALUES
		   (1, 2, '11A', 0), (2, 2, '11A', 1), (3, 2, '11B', 0)`,
		`INSERT INTO exams (academic_year_id, name, created_at) VALUES (2, 'Simulacro', 1756500000)`,
	}
	for _, q := range stmts {
		if _, err := dbh.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

var seededTables = []string{"academic_years", "students", "enrollments", "exams"}

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		name   string
		v      any
		dbType string
		want   any
	}{
		{"null stays null", nil, "TEXT", nil},
		{"native bool", true, "BOOL", "1"},
		{"integer-coded bool", int64(1), "BOOLEAN", "1"},
		{"integer-coded false", int64(0), "BOOLEAN", "0"},
		{"plain integer", int64(42), "BIGINT", "42"},
		{"float trims zeros", 1.5, "REAL", "1.5"},
		{"numeric text trims zeros", "1.50", "NUMERIC", "1.5"},
		{"bool text", "t", "BOOL", "1"},
		{"plain text untouched", "1.50", "TEXT", "1.50"},
		{"numeric bytes", []byte("10.00"), "NUMERIC", "10"},
		{
			"midnight becomes date",
			time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), "TIMESTAMP", "2026-03-15",
		},
		{
			"timestamp canonical",
			time.Date(2026, 3, 15, 8, 30, 5, 0, time.UTC), "TIMESTAMP", "2026-03-15 08:30:05",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := normalizeValue(c.v, c.dbType); got != c.want {
				t.Errorf("normalizeValue(%v, %s) = %v, want %v", c.v, c.dbType, got, c.want)
			}
		})
	}
}

func TestOrderColumn(t *testing.T) {
	cases := []struct {
		cols []string
		want string
	}{
		{[]string{"name", "id", "created_at"}, "id"},
		{[]string{"name", "created_at"}, "created_at"},
		{[]string{"name", "updated_at"}, "updated_at"},
		{[]string{"email", "name"}, "email"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := orderColumn(c.cols); got != c.want {
			t.Errorf("orderColumn(%v) = %q, want %q", c.cols, got, c.want)
		}
	}
}

func TestSnapshotFingerprintStability(t *testing.T) {
	dbh := openTestDB(t, "src.db")
	seedSource(t, dbh)
	ctx := context.Background()

	first, err := Snapshot(ctx, dbh, seededTables, Options{Fingerprint: true})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := Snapshot(ctx, dbh, seededTables, Options{Fingerprint: true})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for i := range first {
		if first[i].Fingerprint == "" {
			t.Fatalf("%s: empty fingerprint", first[i].Table)
		}
		if first[i].Fingerprint != second[i].Fingerprint {
			t.Errorf("%s: fingerprint not stable", first[i].Table)
		}
		if first[i].OrderColumn != "id" {
			t.Errorf("%s: order column = %q", first[i].Table, first[i].OrderColumn)
		}
	}
	if first[1].RowCount != 3 {
		t.Errorf("students row count = %d", first[1].RowCount)
	}

	// Chunk size must not influence the result, only memory use.
	chunked, err := Snapshot(ctx, dbh, seededTables, Options{Fingerprint: true, ChunkSize: 2})
	if err != nil {
		t.Fatalf("Snapshot chunked: %v", err)
	}
	for i := range first {
		if first[i].Fingerprint != chunked[i].Fingerprint {
			t.Errorf("%s: fingerprint depends on chunk size", first[i].Table)
		}
	}

	if _, err := dbh.ExecContext(ctx,
		`INSERT INTO students (external_id, full_name) VALUES ('1004', 'Diego')`); err != nil {
		t.Fatal(err)
	}
	after, err := Snapshot(ctx, dbh, seededTables, Options{Fingerprint: true})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if after[1].RowCount != 4 {
		t.Errorf("students row count after insert = %d", after[1].RowCount)
	}
	if after[1].Fingerprint == first[1].Fingerprint {
		t.Error("students fingerprint unchanged after insert")
	}
	if after[0].Fingerprint != first[0].Fingerprint {
		t.Error("untouched table fingerprint changed")
	}
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	source := openTestDB(t, "src.db")
	target := openTestDB(t, "dst.db")
	seedSource(t, source)
	ctx := context.Background()

	rep, err := Migrate(ctx, source, target, db.DriverSQLite, MigrateOptions{
		Tables: seededTables, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !rep.DryRun || rep.TargetAfter != nil {
		t.Errorf("dry-run report = %+v", rep)
	}
	var n int
	if err := target.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dry run copied %d rows", n)
	}
}

func TestMigrateRoundTrip(t *testing.T) {
	source := openTestDB(t, "src.db")
	target := openTestDB(t, "dst.db")
	seedSource(t, source)
	ctx := context.Background()

	rep, err := Migrate(ctx, source, target, db.DriverSQLite, MigrateOptions{
		Tables: seededTables, Fingerprint: true, ChunkSize: 2,
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if rep.HasMismatches() {
		t.Fatalf("mismatches: %+v", rep.Mismatches)
	}
	for i, src := range rep.SourceSnapshot {
		dst := rep.TargetAfter[i]
		if src.RowCount != dst.RowCount || src.Fingerprint != dst.Fingerprint {
			t.Errorf("%s: source %d/%s target %d/%s",
				src.Table, src.RowCount, src.Fingerprint, dst.RowCount, dst.Fingerprint)
		}
	}

	// NULL emails must survive the copy as NULL.
	var email sql.NullString
	if err := target.QueryRowContext(ctx,
		`SELECT email FROM students WHERE external_id = '1002'`).Scan(&email); err != nil {
		t.Fatal(err)
	}
	if email.Valid {
		t.Errorf("expected NULL email, got %q", email.String)
	}

	// Re-running against the same target stays clean: copies are upserts.
	rep2, err := Migrate(ctx, source, target, db.DriverSQLite, MigrateOptions{
		Tables: seededTables, Fingerprint: true,
	})
	if err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
	if rep2.HasMismatches() {
		t.Fatalf("second run mismatches: %+v", rep2.Mismatches)
	}
}

func TestMigrateTruncateTargetRemovesStrays(t *testing.T) {
	source := openTestDB(t, "src.db")
	target := openTestDB(t, "dst.db")
	seedSource(t, source)
	ctx := context.Background()

	// A target-only row the source never had, outside the source id range so
	// the upsert cannot overwrite it.
	if _, err := target.ExecContext(ctx,
		`INSERT INTO students (id, external_id, full_name) VALUES (99, '9999', 'Fantasma')`); err != nil {
		t.Fatal(err)
	}

	rep, err := Migrate(ctx, source, target, db.DriverSQLite, MigrateOptions{
		Tables: seededTables, Fingerprint: true,
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !rep.HasMismatches() {
		t.Fatal("expected mismatch while stray row remains")
	}

	rep, err = Migrate(ctx, source, target, db.DriverSQLite, MigrateOptions{
		Tables: seededTables, Fingerprint: true, TruncateTarget: true,
	})
	if err != nil {
		t.Fatalf("Migrate truncate: %v", err)
	}
	if rep.HasMismatches() {
		t.Fatalf("mismatches after truncate: %+v", rep.Mismatches)
	}
	var n int
	if err := target.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM students WHERE external_id = '9999'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("stray row survived truncate")
	}
}
