package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	dbh, err := OpenRaw(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, dbh, driver); err != nil {
		return nil, err
	}
	return dbh, nil
}

// OpenRaw opens a connection without touching the schema. The migration CLI
// uses it so that snapshotting a source database never mutates it.
func OpenRaw(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:zipgrade.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/zipgrade?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	dbh, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := dbh.PingContext(ctx); err != nil {
		return nil, err
	}
	return dbh, nil
}

func ensureSchema(ctx context.Context, dbh *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := dbh.ExecContext(ctx, schema)
	return err
}

// CoreTables lists the pipeline tables in FK-safe insert order. The migration
// service copies them in this order so references resolve on the target side.
var CoreTables = []string{
	"academic_years",
	"students",
	"enrollments",
	"exams",
	"exam_sessions",
	"exam_questions",
	"tag_hierarchy",
	"tag_normalizations",
	"question_tags",
	"student_answers",
	"zipgrade_imports",
	"users",
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS academic_years (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  is_active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS students (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  external_id TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  email TEXT
);

CREATE TABLE IF NOT EXISTS enrollments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  academic_year_id INTEGER NOT NULL REFERENCES academic_years(id),
  grade_group TEXT NOT NULL DEFAULT '',
  is_piar INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  UNIQUE (student_id, academic_year_id)
);

CREATE TABLE IF NOT EXISTS exams (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  academic_year_id INTEGER NOT NULL REFERENCES academic_years(id),
  name TEXT NOT NULL,
  created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exam_sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  session_number INTEGER NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  total_questions INTEGER NOT NULL DEFAULT 0,
  zipgrade_quiz_name TEXT NOT NULL DEFAULT '',
  UNIQUE (exam_id, session_number)
);

CREATE TABLE IF NOT EXISTS exam_questions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_session_id INTEGER NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
  question_number INTEGER NOT NULL,
  correct_answer TEXT NOT NULL DEFAULT '',
  response_1 TEXT, response_1_pct REAL,
  response_2 TEXT, response_2_pct REAL,
  response_3 TEXT, response_3_pct REAL,
  response_4 TEXT, response_4_pct REAL,
  UNIQUE (exam_session_id, question_number)
);

CREATE TABLE IF NOT EXISTS tag_hierarchy (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tag_name TEXT NOT NULL UNIQUE,
  tag_type TEXT NOT NULL,
  parent_area TEXT
);

CREATE TABLE IF NOT EXISTS tag_normalizations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tag_csv_name TEXT NOT NULL UNIQUE,
  tag_system_name TEXT NOT NULL,
  tag_type TEXT NOT NULL,
  parent_area TEXT,
  is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS question_tags (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_question_id INTEGER NOT NULL REFERENCES exam_questions(id) ON DELETE CASCADE,
  tag_hierarchy_id INTEGER NOT NULL REFERENCES tag_hierarchy(id),
  inferred_area TEXT,
  UNIQUE (exam_question_id, tag_hierarchy_id)
);

CREATE TABLE IF NOT EXISTS student_answers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_question_id INTEGER NOT NULL REFERENCES exam_questions(id) ON DELETE CASCADE,
  enrollment_id INTEGER NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
  is_correct INTEGER NOT NULL DEFAULT 0,
  selected_answer TEXT NOT NULL DEFAULT '',
  UNIQUE (exam_question_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS zipgrade_imports (
  id TEXT PRIMARY KEY,
  exam_session_id INTEGER NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
  filename TEXT NOT NULL DEFAULT '',
  total_rows INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  error_message TEXT,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS academic_years (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  is_active SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS students (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  email TEXT
);

CREATE TABLE IF NOT EXISTS enrollments (
  id BIGSERIAL PRIMARY KEY,
  student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  academic_year_id BIGINT NOT NULL REFERENCES academic_years(id),
  grade_group TEXT NOT NULL DEFAULT '',
  is_piar SMALLINT NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  UNIQUE (student_id, academic_year_id)
);

CREATE TABLE IF NOT EXISTS exams (
  id BIGSERIAL PRIMARY KEY,
  academic_year_id BIGINT NOT NULL REFERENCES academic_years(id),
  name TEXT NOT NULL,
  created_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exam_sessions (
  id BIGSERIAL PRIMARY KEY,
  exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  session_number INTEGER NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  total_questions INTEGER NOT NULL DEFAULT 0,
  zipgrade_quiz_name TEXT NOT NULL DEFAULT '',
  UNIQUE (exam_id, session_number)
);

CREATE TABLE IF NOT EXISTS exam_questions (
  id BIGSERIAL PRIMARY KEY,
  exam_session_id BIGINT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
  question_number INTEGER NOT NULL,
  correct_answer TEXT NOT NULL DEFAULT '',
  response_1 TEXT, response_1_pct DOUBLE PRECISION,
  response_2 TEXT, response_2_pct DOUBLE PRECISION,
  response_3 TEXT, response_3_pct DOUBLE PRECISION,
  response_4 TEXT, response_4_pct DOUBLE PRECISION,
  UNIQUE (exam_session_id, question_number)
);

CREATE TABLE IF NOT EXISTS tag_hierarchy (
  id BIGSERIAL PRIMARY KEY,
  tag_name TEXT NOT NULL UNIQUE,
  tag_type TEXT NOT NULL,
  parent_area TEXT
);

CREATE TABLE IF NOT EXISTS tag_normalizations (
  id BIGSERIAL PRIMARY KEY,
  tag_csv_name TEXT NOT NULL UNIQUE,
  tag_system_name TEXT NOT NULL,
  tag_type TEXT NOT NULL,
  parent_area TEXT,
  is_active SMALLINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS question_tags (
  id BIGSERIAL PRIMARY KEY,
  exam_question_id BIGINT NOT NULL REFERENCES exam_questions(id) ON DELETE CASCADE,
  tag_hierarchy_id BIGINT NOT NULL REFERENCES tag_hierarchy(id),
  inferred_area TEXT,
  UNIQUE (exam_question_id, tag_hierarchy_id)
);

CREATE TABLE IF NOT EXISTS student_answers (
  id BIGSERIAL PRIMARY KEY,
  exam_question_id BIGINT NOT NULL REFERENCES exam_questions(id) ON DELETE CASCADE,
  enrollment_id BIGINT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
  is_correct SMALLINT NOT NULL DEFAULT 0,
  selected_answer TEXT NOT NULL DEFAULT '',
  UNIQUE (exam_question_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS zipgrade_imports (
  id TEXT PRIMARY KEY,
  exam_session_id BIGINT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
  filename TEXT NOT NULL DEFAULT '',
  total_rows INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  error_message TEXT,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL
);
`
