// Package metrics computes derived scores from the persisted
// question/tag/answer graph. Nothing here is stored: re-running any function
// after a re-import yields output consistent with the new data.
package metrics

import (
	"context"
	"database/sql"
	"math"

	"github.com/examstats/zipgrade-pipeline/internal/tags"
)

type Service struct{ DB *sql.DB }

func NewService(dbh *sql.DB) *Service { return &Service{DB: dbh} }

// AreaScore is the percentage of an area's distinct questions the enrollment
// answered correctly, across every session of the exam. Distinct-question
// semantics are enforced in SQL (COUNT(DISTINCT q.id)): a question carrying
// two tags of the same area still counts once. An area with no tagged
// questions scores zero, which is not an error.
func (s *Service) AreaScore(ctx context.Context, enrollmentID, examID int64, area string) (float64, error) {
	var total, correct int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT q.id),
		       COUNT(DISTINCT CASE WHEN sa.is_correct = 1 THEN q.id END)
		  FROM exam_questions q
		  JOIN exam_sessions es ON es.id = q.exam_session_id
		  JOIN question_tags qt ON qt.exam_question_id = q.id
		  LEFT JOIN student_answers sa
		         ON sa.exam_question_id = q.id AND sa.enrollment_id = $1
		 WHERE es.exam_id = $2 AND qt.inferred_area = $3`,
		enrollmentID, examID, area).Scan(&total, &correct)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(correct) / float64(total), nil
}

// AreaScores returns all five canonical area scores in one call.
func (s *Service) AreaScores(ctx context.Context, enrollmentID, examID int64) (map[string]float64, error) {
	out := make(map[string]float64, len(tags.Areas))
	for _, area := range tags.Areas {
		v, err := s.AreaScore(ctx, enrollmentID, examID, area)
		if err != nil {
			return nil, err
		}
		out[area] = v
	}
	return out, nil
}

// GlobalScore applies the institutional weighting: reading, math, social and
// natural sciences weigh 3 each, English 1, normalized by 13 and rescaled to
// [0,500]. Rounding is half away from zero to reproduce the published
// results exactly.
func (s *Service) GlobalScore(ctx context.Context, enrollmentID, examID int64) (int, error) {
	areas, err := s.AreaScores(ctx, enrollmentID, examID)
	if err != nil {
		return 0, err
	}
	return GlobalFromAreas(areas), nil
}

// GlobalFromAreas is the pure weighting formula, split out so the exact
// arithmetic is testable without a database.
func GlobalFromAreas(areas map[string]float64) int {
	weighted := (areas[tags.AreaLectura]+
		areas[tags.AreaMatematicas]+
		areas[tags.AreaSociales]+
		areas[tags.AreaNaturales])*3 +
		areas[tags.AreaIngles]
	return int(math.Round(weighted / 13 * 5))
}

// DimensionScore computes the per-tag percentage for one dimension type under
// one area, keyed by tag name. Same distinct-question rule as AreaScore.
func (s *Service) DimensionScore(ctx context.Context, enrollmentID, examID int64, area, dimensionType string) (map[string]float64, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT th.tag_name,
		       COUNT(DISTINCT q.id),
		       COUNT(DISTINCT CASE WHEN sa.is_correct = 1 THEN q.id END)
		  FROM question_tags qt
		  JOIN tag_hierarchy th ON th.id = qt.tag_hierarchy_id
		  JOIN exam_questions q ON q.id = qt.exam_question_id
		  JOIN exam_sessions es ON es.id = q.exam_session_id
		  LEFT JOIN student_answers sa
		         ON sa.exam_question_id = q.id AND sa.enrollment_id = $1
		 WHERE es.exam_id = $2 AND qt.inferred_area = $3 AND th.tag_type = $4
		 GROUP BY th.tag_name
		 ORDER BY th.tag_name`,
		enrollmentID, examID, area, dimensionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var name string
		var total, correct int64
		if err := rows.Scan(&name, &total, &correct); err != nil {
			return nil, err
		}
		if total == 0 {
			out[name] = 0
			continue
		}
		out[name] = 100 * float64(correct) / float64(total)
	}
	return out, rows.Err()
}
