package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/examstats/zipgrade-pipeline/internal/metrics"
	"github.com/examstats/zipgrade-pipeline/internal/tags"
)

// GET /exams/{examID}/enrollments/{enrollmentID}/scores
// Optional ?dimension=competencia adds per-tag breakdowns for every area.
func EnrollmentScoresHandler(svc *metrics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
		if err != nil {
			http.Error(w, "bad exam id", 400)
			return
		}
		enrollmentID, err := strconv.ParseInt(chi.URLParam(r, "enrollmentID"), 10, 64)
		if err != nil {
			http.Error(w, "bad enrollment id", 400)
			return
		}

		areas, err := svc.AreaScores(r.Context(), enrollmentID, examID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out := map[string]any{
			"areas":  areas,
			"global": metrics.GlobalFromAreas(areas),
		}

		if dim := r.URL.Query().Get("dimension"); dim != "" {
			if !validDimension(dim) {
				http.Error(w, "unknown dimension type", 400)
				return
			}
			byArea := map[string]map[string]float64{}
			for _, area := range tags.Areas {
				d, err := svc.DimensionScore(r.Context(), enrollmentID, examID, area, dim)
				if err != nil {
					http.Error(w, err.Error(), 500)
					return
				}
				if len(d) > 0 {
					byArea[area] = d
				}
			}
			out["dimensions"] = byArea
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

// GET /exams/{examID}/statistics
func ExamStatisticsHandler(svc *metrics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
		if err != nil {
			http.Error(w, "bad exam id", 400)
			return
		}
		stats, err := svc.GetExamStatistics(r.Context(), examID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(stats)
	}
}

func validDimension(dim string) bool {
	for _, d := range tags.DimensionTypes {
		if d == dim {
			return true
		}
	}
	return false
}
