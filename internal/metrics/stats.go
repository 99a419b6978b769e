package metrics

import (
	"context"
	"math"

	"github.com/examstats/zipgrade-pipeline/internal/roster"
	"github.com/examstats/zipgrade-pipeline/internal/tags"
)

// Summary is mean and sample standard deviation over a score series.
// StdDev uses Bessel's correction; fewer than two values yield 0.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// ExamStatistics aggregates per-student outputs of the scoring engine. It is
// a plain fan-out over enrollments, no separate algorithm.
type ExamStatistics struct {
	Global  Summary            `json:"global"`
	ByArea  map[string]Summary `json:"by_area"`
	ByGroup map[string]Summary `json:"by_group"`
	PIAR    Summary            `json:"piar"`
	NonPIAR Summary            `json:"non_piar"`
}

// GetExamStatistics computes global/area summaries for every active
// enrollment of the exam's academic year, with group and PIAR breakdowns of
// the global score.
func (s *Service) GetExamStatistics(ctx context.Context, examID int64) (*ExamStatistics, error) {
	rs := roster.NewStore(s.DB)
	yearID, err := rs.ExamYear(ctx, examID)
	if err != nil {
		return nil, err
	}
	enrollments, err := rs.ActiveForYear(ctx, yearID)
	if err != nil {
		return nil, err
	}

	var globals []float64
	areaSeries := map[string][]float64{}
	groupSeries := map[string][]float64{}
	var piar, nonPIAR []float64

	for _, e := range enrollments {
		areas, err := s.AreaScores(ctx, e.ID, examID)
		if err != nil {
			return nil, err
		}
		g := float64(GlobalFromAreas(areas))
		globals = append(globals, g)
		for _, a := range tags.Areas {
			areaSeries[a] = append(areaSeries[a], areas[a])
		}
		if e.GradeGroup != "" {
			groupSeries[e.GradeGroup] = append(groupSeries[e.GradeGroup], g)
		}
		if e.IsPIAR {
			piar = append(piar, g)
		} else {
			nonPIAR = append(nonPIAR, g)
		}
	}

	out := &ExamStatistics{
		Global:  Summarize(globals),
		ByArea:  map[string]Summary{},
		ByGroup: map[string]Summary{},
		PIAR:    Summarize(piar),
		NonPIAR: Summarize(nonPIAR),
	}
	for a, series := range areaSeries {
		out.ByArea[a] = Summarize(series)
	}
	for g, series := range groupSeries {
		out.ByGroup[g] = Summarize(series)
	}
	return out, nil
}

// Summarize computes mean and sample standard deviation.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	if n < 2 {
		return Summary{N: n, Mean: mean}
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Summary{N: n, Mean: mean, StdDev: math.Sqrt(sq / float64(n-1))}
}
