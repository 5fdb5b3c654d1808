package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/services"
	"github.com/mkandie/artifact-triage-api/internal/utils"
	"github.com/gorilla/mux"
)

type SubmissionHandler struct {
	service  services.PipelineService
	maxBytes int64
	logger   *utils.Logger
}

func NewSubmissionHandler(service services.PipelineService, maxBytes int64, logger *utils.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:  service,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (h *SubmissionHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	// Check Content-Length header first to reject oversized requests early
	if r.ContentLength > h.maxBytes {
		h.respondError(w, h.tooLarge(r.ContentLength))
		return
	}

	// Limit the request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			h.respondError(w, h.tooLarge(r.ContentLength))
			return
		}
		h.respondError(w, utils.NewBadRequestError("Invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		h.respondError(w, utils.NewInternalError("Failed to read file"))
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.respondError(w, h.tooLarge(int64(len(data))))
		return
	}

	req := &services.ProcessRequest{
		Payload:      data,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		DeclaredType: r.FormValue("declared_type"),
		SymbolHint:   r.FormValue("symbol_hint"),
		TrustLevel:   parseTrustLevel(r.FormValue("trust_level")),
	}

	h.logger.Info("Artifact submitted",
		"filename", header.Filename,
		"size_bytes", len(data),
		"declared_type", req.DeclaredType,
		"trust_level", req.TrustLevel)

	resp, err := h.service.Process(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	// An escalation means the artifact is parked awaiting an operator
	// choice, not that processing finished.
	if resp.Escalation != nil {
		h.respondJSON(w, http.StatusAccepted, resp)
		return
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *SubmissionHandler) GetOutput(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Output ID is required"))
		return
	}

	out, err := h.service.GetOutput(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, out)
}

// GetSubmissionOutput looks up the finished output by the submission ID the
// caller got back from the upload.
func (h *SubmissionHandler) GetSubmissionOutput(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Submission ID is required"))
		return
	}

	out, err := h.service.GetOutputForSubmission(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, out)
}

type resumeRequest struct {
	Mode       string `json:"mode"`
	TrustLevel string `json:"trust_level"`
}

func (h *SubmissionHandler) ResumeEscalation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Escalation ID is required"))
		return
	}

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}
	if req.Mode == "" {
		h.respondError(w, utils.NewBadRequestError("Escalation mode is required"))
		return
	}

	resp, err := h.service.Resume(r.Context(), id, models.EscalationMode(req.Mode), parseTrustLevel(req.TrustLevel))
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *SubmissionHandler) SearchEscalation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	query := r.URL.Query().Get("q")

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Escalation ID is required"))
		return
	}
	if query == "" {
		h.respondError(w, utils.NewBadRequestError("Query parameter q is required"))
		return
	}

	matches, err := h.service.Search(r.Context(), id, query)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"matches": matches,
	})
}

func (h *SubmissionHandler) tooLarge(size int64) error {
	return utils.NewPayloadTooLargeError(fmt.Sprintf(
		"artifact of %d bytes exceeds the %d byte limit; narrow the time range, filter by severity, or split the file and resubmit",
		size, h.maxBytes))
}

func parseTrustLevel(v string) models.TrustLevel {
	if models.TrustLevel(v) == models.TrustExternallyShared {
		return models.TrustExternallyShared
	}
	return models.TrustLocalOnly
}

func (h *SubmissionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *SubmissionHandler) respondError(w http.ResponseWriter, err error) {
	var status int
	var message string

	switch e := err.(type) {
	case *utils.AppError:
		status = e.StatusCode
		message = e.Message
	default:
		status = http.StatusInternalServerError
		message = "Internal server error"
	}

	h.logger.Error("Request error", "status", status, "error", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
