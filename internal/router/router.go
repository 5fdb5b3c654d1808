package router

import (
	"net/http"

	"github.com/mkandie/artifact-triage-api/internal/handlers"
	"github.com/mkandie/artifact-triage-api/internal/middleware"
	"github.com/mkandie/artifact-triage-api/internal/services"
	"github.com/mkandie/artifact-triage-api/internal/utils"

	"github.com/gorilla/mux"
)

func NewRouter(service services.PipelineService, maxBytes int64, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	subHandler := handlers.NewSubmissionHandler(service, maxBytes, logger)

	// Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Submission endpoints
	api.HandleFunc("/submissions", subHandler.CreateSubmission).Methods(http.MethodPost)
	api.HandleFunc("/submissions/{id}", subHandler.GetSubmissionOutput).Methods(http.MethodGet)
	api.HandleFunc("/outputs/{id}", subHandler.GetOutput).Methods(http.MethodGet)

	// Escalation endpoints
	api.HandleFunc("/escalations/{id}/resume", subHandler.ResumeEscalation).Methods(http.MethodPost)
	api.HandleFunc("/escalations/{id}/search", subHandler.SearchEscalation).Methods(http.MethodGet)

	return r
}
