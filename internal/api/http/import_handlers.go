package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/examstats/zipgrade-pipeline/internal/importer"
)

// POST /exams/{examID}/sessions/{sessionNumber}/analyze
// multipart: blueprint=..., responses=...
func AnalyzeSessionHandler(svc *importer.Service, uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, sessionNumber, ok := sessionParams(w, r)
		if !ok {
			return
		}
		bpPath, err := saveUpload(r, "blueprint", uploadDir)
		if err != nil {
			http.Error(w, "blueprint file required", 400)
			return
		}
		respPath, err := saveUpload(r, "responses", uploadDir)
		if err != nil {
			os.Remove(bpPath)
			http.Error(w, "responses file required", 400)
			return
		}

		res, err := svc.Analyze(r.Context(), examID, sessionNumber, bpPath, respPath)
		if err != nil {
			// The files only outlive the request when a preview holds them.
			os.Remove(bpPath)
			os.Remove(respPath)
			writeImportError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}

// POST /exams/{examID}/sessions/{sessionNumber}/commit
func CommitSessionHandler(svc *importer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, sessionNumber, ok := sessionParams(w, r)
		if !ok {
			return
		}
		var req struct {
			Token              string                       `json:"token"`
			Classifications    map[string]importer.TagInput `json:"classifications"`
			SaveNormalizations bool                         `json:"save_normalizations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.Token == "" {
			http.Error(w, "token required", 400)
			return
		}
		res, err := svc.Commit(r.Context(), examID, sessionNumber, req.Token, req.Classifications, req.SaveNormalizations)
		if err != nil {
			writeImportError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}

func sessionParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		http.Error(w, "bad exam id", 400)
		return 0, 0, false
	}
	sessionNumber, err := strconv.Atoi(chi.URLParam(r, "sessionNumber"))
	if err != nil || sessionNumber <= 0 {
		http.Error(w, "bad session number", 400)
		return 0, 0, false
	}
	return examID, sessionNumber, true
}

func saveUpload(r *http.Request, field, uploadDir string) (string, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return copyToTemp(f, field, uploadDir)
}

func copyToTemp(f multipart.File, field, uploadDir string) (string, error) {
	tmp, err := os.CreateTemp(uploadDir, "zipgrade-"+field+"-*.csv")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, f); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// writeImportError maps the importer's closed error taxonomy onto HTTP
// statuses; the Spanish operator message passes through verbatim.
func writeImportError(w http.ResponseWriter, err error) {
	var ie *importer.ImportError
	status := http.StatusInternalServerError
	if errors.As(err, &ie) {
		switch ie.Kind {
		case importer.KindInvalidInput, importer.KindMissingAreaTag, importer.KindSessionMismatch:
			status = http.StatusBadRequest
		case importer.KindUnclassifiedTags:
			status = http.StatusUnprocessableEntity
		case importer.KindPreviewExpired:
			status = http.StatusNotFound
		}
	}
	http.Error(w, err.Error(), status)
}
