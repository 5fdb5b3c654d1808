package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/services"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

type stubService struct {
	lastProcess *services.ProcessRequest
	lastMode    models.EscalationMode
	processResp *services.ProcessResponse
	resumeResp  *services.ProcessResponse
	err         error
}

func (s *stubService) Process(ctx context.Context, req *services.ProcessRequest) (*services.ProcessResponse, error) {
	s.lastProcess = req
	return s.processResp, s.err
}

func (s *stubService) Resume(ctx context.Context, id string, mode models.EscalationMode, trust models.TrustLevel) (*services.ProcessResponse, error) {
	s.lastMode = mode
	return s.resumeResp, s.err
}

func (s *stubService) Search(ctx context.Context, id, query string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []string{"match one"}, nil
}

func (s *stubService) GetOutput(ctx context.Context, id string) (*models.PreprocessingOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.PreprocessingOutput{ID: id}, nil
}

func (s *stubService) GetOutputForSubmission(ctx context.Context, submissionID string) (*models.PreprocessingOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.PreprocessingOutput{ID: "out-for-" + submissionID, SubmissionID: submissionID}, nil
}

func (s *stubService) Close() {}

func newTestHandler(svc *stubService, maxBytes int64) *SubmissionHandler {
	return NewSubmissionHandler(svc, maxBytes, utils.NewLogger("error"))
}

func multipartBody(t *testing.T, filename string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCreateSubmissionSuccess(t *testing.T) {
	svc := &stubService{processResp: &services.ProcessResponse{
		Output: &models.PreprocessingOutput{ID: "out-1"},
	}}
	h := newTestHandler(svc, 1<<20)

	body, contentType := multipartBody(t, "worker.log", []byte("2024-01-01 ERROR boom"), map[string]string{
		"declared_type": "log_events",
		"symbol_hint":   "handleRequest",
		"trust_level":   "externally_shared",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreateSubmission(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.lastProcess)
	assert.Equal(t, "worker.log", svc.lastProcess.Filename)
	assert.Equal(t, "log_events", svc.lastProcess.DeclaredType)
	assert.Equal(t, "handleRequest", svc.lastProcess.SymbolHint)
	assert.Equal(t, models.TrustExternallyShared, svc.lastProcess.TrustLevel)
}

func TestCreateSubmissionEscalationReturnsAccepted(t *testing.T) {
	svc := &stubService{processResp: &services.ProcessResponse{
		Escalation: &models.EscalationRequest{EscalationID: "esc-1"},
	}}
	h := newTestHandler(svc, 1<<20)

	body, contentType := multipartBody(t, "big.txt", []byte("payload"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreateSubmission(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp services.ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, "esc-1", resp.Escalation.EscalationID)
}

func TestCreateSubmissionRejectsOversizedContentLength(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 64)

	body, contentType := multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreateSubmission(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, svc.lastProcess)
	assert.Contains(t, rec.Body.String(), "split the file")
}

func TestCreateSubmissionRequiresFile(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("declared_type", "log_events"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	h.CreateSubmission(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No file provided")
}

func TestCreateSubmissionPropagatesServiceError(t *testing.T) {
	svc := &stubService{err: utils.NewGoneError("expired")}
	h := newTestHandler(svc, 1<<20)

	body, contentType := multipartBody(t, "a.txt", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreateSubmission(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestResumeEscalation(t *testing.T) {
	svc := &stubService{resumeResp: &services.ProcessResponse{
		Output: &models.PreprocessingOutput{ID: "out-2"},
	}}
	h := newTestHandler(svc, 1<<20)

	body := strings.NewReader(`{"mode":"deep_summary","trust_level":"local_only"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/esc-1/resume", body)
	req = mux.SetURLVars(req, map[string]string{"id": "esc-1"})
	rec := httptest.NewRecorder()

	h.ResumeEscalation(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ModeDeepSummary, svc.lastMode)
}

func TestResumeEscalationRequiresMode(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/esc-1/resume", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "esc-1"})
	rec := httptest.NewRecorder()

	h.ResumeEscalation(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEscalation(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/escalations/esc-1/search?q=timeout", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "esc-1"})
	rec := httptest.NewRecorder()

	h.SearchEscalation(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "match one")
}

func TestSearchEscalationRequiresQuery(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/escalations/esc-1/search", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "esc-1"})
	rec := httptest.NewRecorder()

	h.SearchEscalation(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOutput(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outputs/out-1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "out-1"})
	rec := httptest.NewRecorder()

	h.GetOutput(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "out-1")
}

func TestGetSubmissionOutput(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/sub-9", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "sub-9"})
	rec := httptest.NewRecorder()

	h.GetSubmissionOutput(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "out-for-sub-9")
}
