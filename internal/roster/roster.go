// Package roster resolves external Zipgrade student identifiers against the
// internal enrollment records of an academic year.
package roster

import (
	"context"
	"database/sql"
)

const StatusActive = "active"

type Enrollment struct {
	ID             int64
	StudentID      int64
	AcademicYearID int64
	GradeGroup     string
	IsPIAR         bool
	ExternalID     string
	StudentName    string
}

// Store loads enrollment data with plain SQL; no caching beyond the
// per-import map the resolver builds.
type Store struct{ DB *sql.DB }

func NewStore(dbh *sql.DB) *Store { return &Store{DB: dbh} }

// ActiveByExternalID builds the external-id → enrollment map for one academic
// year. Only status=active enrollments participate; matching is exact-id only,
// unmatched students are the caller's problem to report, never an error.
func (s *Store) ActiveByExternalID(ctx context.Context, academicYearID int64) (map[string]Enrollment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT e.id, e.student_id, e.academic_year_id, e.grade_group, e.is_piar, st.external_id, st.full_name
		  FROM enrollments e
		  JOIN students st ON st.id = e.student_id
		 WHERE e.academic_year_id = $1 AND e.status = $2`,
		academicYearID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Enrollment{}
	for rows.Next() {
		var e Enrollment
		var piar int
		if err := rows.Scan(&e.ID, &e.StudentID, &e.AcademicYearID, &e.GradeGroup, &piar, &e.ExternalID, &e.StudentName); err != nil {
			return nil, err
		}
		e.IsPIAR = piar != 0
		out[e.ExternalID] = e
	}
	return out, rows.Err()
}

// ActiveForYear lists active enrollments for statistics fan-out, ordered by id
// so aggregate output is stable across runs.
func (s *Store) ActiveForYear(ctx context.Context, academicYearID int64) ([]Enrollment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT e.id, e.student_id, e.academic_year_id, e.grade_group, e.is_piar, st.external_id, st.full_name
		  FROM enrollments e
		  JOIN students st ON st.id = e.student_id
		 WHERE e.academic_year_id = $1 AND e.status = $2
		 ORDER BY e.id`,
		academicYearID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		var e Enrollment
		var piar int
		if err := rows.Scan(&e.ID, &e.StudentID, &e.AcademicYearID, &e.GradeGroup, &piar, &e.ExternalID, &e.StudentName); err != nil {
			return nil, err
		}
		e.IsPIAR = piar != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExamYear returns the academic year an exam belongs to.
func (s *Store) ExamYear(ctx context.Context, examID int64) (int64, error) {
	var yearID int64
	err := s.DB.QueryRowContext(ctx, `SELECT academic_year_id FROM exams WHERE id = $1`, examID).Scan(&yearID)
	return yearID, err
}
