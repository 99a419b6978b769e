package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/examstats/zipgrade-pipeline/internal/api/http"
	"github.com/examstats/zipgrade-pipeline/internal/auth"
	"github.com/examstats/zipgrade-pipeline/internal/config"
	"github.com/examstats/zipgrade-pipeline/internal/db"
	"github.com/examstats/zipgrade-pipeline/internal/importer"
	"github.com/examstats/zipgrade-pipeline/internal/metrics"
	"github.com/examstats/zipgrade-pipeline/internal/roster"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	previews := importer.NewMemoryPreviewStore(nil)
	importSvc := importer.NewService(dbh, previews, nil)
	scoreSvc := metrics.NewService(dbh)
	rosterStore := roster.NewStore(dbh)
	authSvc := auth.NewService(cfg.AuthSecret, cfg.AdminUser, cfg.AdminPassHash)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	// Imports parse whole files synchronously; give them room.
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.Post("/exams/{examID}/sessions/{sessionNumber}/analyze", api.AnalyzeSessionHandler(importSvc, cfg.UploadDir))
		pr.Post("/exams/{examID}/sessions/{sessionNumber}/commit", api.CommitSessionHandler(importSvc))

		pr.Get("/exams/{examID}/enrollments/{enrollmentID}/scores", api.EnrollmentScoresHandler(scoreSvc))
		pr.Get("/exams/{examID}/statistics", api.ExamStatisticsHandler(scoreSvc))

		pr.Get("/years/{yearID}/enrollments", api.ListEnrollmentsHandler(rosterStore))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
