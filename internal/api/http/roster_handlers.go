package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/examstats/zipgrade-pipeline/internal/roster"
)

// GET /years/{yearID}/enrollments lets the operator check who would match an import.
func ListEnrollmentsHandler(store *roster.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		yearID, err := strconv.ParseInt(chi.URLParam(r, "yearID"), 10, 64)
		if err != nil {
			http.Error(w, "bad year id", 400)
			return
		}
		list, err := store.ActiveForYear(r.Context(), yearID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		type row struct {
			ID         int64  `json:"id"`
			ExternalID string `json:"external_id"`
			Name       string `json:"name"`
			Group      string `json:"group"`
			IsPIAR     bool   `json:"is_piar"`
		}
		out := make([]row, 0, len(list))
		for _, e := range list {
			out = append(out, row{ID: e.ID, ExternalID: e.ExternalID, Name: e.StudentName, Group: e.GradeGroup, IsPIAR: e.IsPIAR})
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
