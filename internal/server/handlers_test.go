package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/reports"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, authMgr *auth.Manager) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	svc := reports.New(store, logger)
	return New(ServerConfig{
		Service:             svc,
		Store:               store,
		Logger:              logger,
		AuthMgr:             authMgr,
		Version:             "test",
		StoreName:           "memory",
		MaxRequestBodyBytes: 1 << 20,
		OpenAPISpec:         []byte("openapi: 3.1.0\n"),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type dataEnvelope struct {
	Data json.RawMessage    `json:"data"`
	Meta model.ResponseMeta `json:"meta"`
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) model.ResponseMeta {
	t.Helper()
	var env dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, target))
	return env.Meta
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func createReport(t *testing.T, h http.Handler, title string, tags ...string) model.Report {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/reports",
		model.CreateReportRequest{Title: title, Tags: tags}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r model.Report
	decodeData(t, rec, &r)
	return r
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	meta := decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "memory", health.Store)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), meta.RequestID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestOpenAPISpecRoute(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := doJSON(t, h, http.MethodGet, "/openapi.yaml", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi: 3.1.0")
}

func TestCreateReport(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	r := createReport(t, h, "Churn Analysis", "churn")
	assert.Contains(t, r.ReportID, "rep_")
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, []string{"churn"}, r.Tags)
}

func TestCreateReportRejectsBadBody(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/reports",
		map[string]any{"title": "ok", "bogus_field": true}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/reports",
		model.CreateReportRequest{Title: ""}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.ErrCodeValidation, decodeError(t, rec).Error.Code)
}

func TestGetReportBySelector(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	for _, selector := range []string{created.ReportID, "Churn Analysis", "churn"} {
		rec := doJSON(t, h, http.MethodGet, "/v1/reports/"+url.PathEscape(selector), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, "selector %q", selector)
		var got model.Report
		decodeData(t, rec, &got)
		assert.Equal(t, created.ReportID, got.ReportID)
	}
}

func TestGetReportNotFound(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := doJSON(t, h, http.MethodGet, "/v1/reports/nonexistent", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Error.Code)
}

func TestGetReportAmbiguous(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	createReport(t, h, "Churn Analysis Q2")
	createReport(t, h, "Churn Analysis Q3")

	rec := doJSON(t, h, http.MethodGet, "/v1/reports/churn", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, model.ErrCodeAmbiguous, env.Error.Code)

	var details reports.ResolutionError
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	assert.Len(t, details.Candidates, 2)
}

func TestResolveEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis", "retention")

	rec := doJSON(t, h, http.MethodGet, "/v1/reports/retention/resolve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum model.ReportSummary
	decodeData(t, rec, &sum)
	assert.Equal(t, created.ReportID, sum.ReportID)
	assert.Equal(t, 1, sum.Version)
}

func TestListReports(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	createReport(t, h, "Alpha")
	createReport(t, h, "Beta")

	rec := doJSON(t, h, http.MethodGet, "/v1/reports", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sums []model.ReportSummary
	decodeData(t, rec, &sums)
	require.Len(t, sums, 2)
	assert.Equal(t, "Alpha", sums[0].Title)
}

func TestEvolveEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
		model.EvolveRequest{
			Instruction: "record finding",
			Changes: model.ProposedChanges{
				InsightsToAdd: []model.InsightDraft{{
					Summary:    "enterprise churn rose",
					Importance: 8,
					Citations:  []model.Citation{{ExecutionID: "exec_1"}},
				}},
			},
		},
		map[string]string{"X-Kiroku-Actor": "analyst"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.EvolutionResult
	decodeData(t, rec, &res)
	assert.Equal(t, 2, res.NewVersion)
	assert.False(t, res.DryRun)
	assert.Len(t, res.Summary.InsightsAdded, 1)
}

func TestEvolveValidationFailure(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
		model.EvolveRequest{
			Changes: model.ProposedChanges{
				InsightsToAdd: []model.InsightDraft{{Summary: "uncited", Importance: 5}},
			},
		}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, model.ErrCodeValidation, env.Error.Code)

	var details reports.ValidationError
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	assert.Equal(t, "semantic", details.Stage)
	require.NotEmpty(t, details.Errors)
}

func TestEvolveBatchEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve-batch",
		model.EvolveBatchRequest{
			Operations: []model.Operation{
				{Type: model.OpAddSection, Section: &model.SectionDraft{Title: "Key Findings"}},
				{Type: model.OpSetStatus, Status: "active"},
			},
		}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.EvolutionResult
	decodeData(t, rec, &res)
	assert.Equal(t, 2, res.NewVersion)
	assert.Len(t, res.Summary.SectionsAdded, 1)
}

func TestAuditEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	for _, title := range []string{"Rev A", "Rev B"} {
		titleCopy := title
		rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
			model.EvolveRequest{Changes: model.ProposedChanges{TitleChange: &titleCopy}},
			map[string]string{"X-Kiroku-Actor": "analyst"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 100, list.Limit)

	recs, err := json.Marshal(list.Data)
	require.NoError(t, err)
	var trail []model.AuditRecord
	require.NoError(t, json.Unmarshal(recs, &trail))
	require.Len(t, trail, 2)
	assert.Equal(t, 1, trail[0].Seq)
	assert.Equal(t, "analyst", trail[0].Actor)
	assert.Equal(t, trail[0].ContentHash, trail[1].PrevHash)

	// Out-of-range pagination parameters are rejected up front.
	rec = doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit?limit=5000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyAuditEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	created := createReport(t, h, "Churn Analysis")

	title := "Rev A"
	rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
		model.EvolveRequest{Changes: model.ProposedChanges{TitleChange: &title}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit/verify", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict struct {
		Valid bool `json:"valid"`
	}
	decodeData(t, rec, &verdict)
	assert.True(t, verdict.Valid)
}

func TestActorHeaderWithAuthDisabled(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()
	created := createReport(t, h, "Churn Analysis")

	title := "Rev A"
	rec := doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
		model.EvolveRequest{Changes: model.ProposedChanges{TitleChange: &title}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Without the header the actor defaults to anonymous.
	rec = doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit", nil, nil)
	var list model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	recs, _ := json.Marshal(list.Data)
	var trail []model.AuditRecord
	require.NoError(t, json.Unmarshal(recs, &trail))
	require.Len(t, trail, 1)
	assert.Equal(t, "anonymous", trail[0].Actor)
}

func TestAuthEnabledFlow(t *testing.T) {
	mgr, err := auth.NewManager("test-api-key", testJWTSecret, time.Hour)
	require.NoError(t, err)
	h := newTestServer(t, mgr).Handler()

	// Protected routes reject unauthenticated requests.
	rec := doJSON(t, h, http.MethodGet, "/v1/reports", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, decodeError(t, rec).Error.Code)

	// Health stays open.
	rec = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A wrong API key is rejected at the token exchange.
	rec = doJSON(t, h, http.MethodPost, "/auth/token",
		model.AuthTokenRequest{Actor: "analyst", APIKey: "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The right key yields a token that opens the API.
	rec = doJSON(t, h, http.MethodPost, "/auth/token",
		model.AuthTokenRequest{Actor: "analyst", APIKey: "test-api-key"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokenResp model.AuthTokenResponse
	decodeData(t, rec, &tokenResp)
	require.NotEmpty(t, tokenResp.Token)

	bearer := map[string]string{"Authorization": "Bearer " + tokenResp.Token}
	rec = doJSON(t, h, http.MethodPost, "/v1/reports",
		model.CreateReportRequest{Title: "Churn Analysis"}, bearer)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The actor from the token flows into audit records.
	var created model.Report
	decodeData(t, rec, &created)
	title := "Rev A"
	rec = doJSON(t, h, http.MethodPost, "/v1/reports/"+created.ReportID+"/evolve",
		model.EvolveRequest{Changes: model.ProposedChanges{TitleChange: &title}}, bearer)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/reports/"+created.ReportID+"/audit", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	recs, _ := json.Marshal(list.Data)
	var trail []model.AuditRecord
	require.NoError(t, json.Unmarshal(recs, &trail))
	require.Len(t, trail, 1)
	assert.Equal(t, "analyst", trail[0].Actor)

	// Garbage tokens do not pass.
	rec = doJSON(t, h, http.MethodGet, "/v1/reports", nil,
		map[string]string{"Authorization": "Bearer not.a.jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingAuthTokenEndpointWhenDisabled(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := doJSON(t, h, http.MethodPost, "/auth/token",
		model.AuthTokenRequest{Actor: "analyst", APIKey: "any"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Error.Code)
}
