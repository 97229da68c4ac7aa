package kiroku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(data any) map[string]any {
	return map[string]any{"data": data}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestCreateReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/reports", r.URL.Path)
		assert.Equal(t, "analyst", r.Header.Get("X-Kiroku-Actor"))

		var req CreateReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Churn Analysis", req.Title)

		writeJSON(t, w, http.StatusCreated, envelope(Report{
			ReportID: "rep_1",
			Title:    req.Title,
			Version:  1,
			Tags:     req.Tags,
		}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Actor: "analyst"})
	r, err := c.CreateReport(context.Background(), CreateReportRequest{
		Title: "Churn Analysis",
		Tags:  []string{"churn"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rep_1", r.ReportID)
	assert.Equal(t, 1, r.Version)
}

func TestGetReportEscapesSelector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports/Churn%20Analysis", r.URL.EscapedPath())
		writeJSON(t, w, http.StatusOK, envelope(Report{ReportID: "rep_1", Title: "Churn Analysis", Version: 3}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	r, err := c.GetReport(context.Background(), "Churn Analysis")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Version)
}

func TestDefaultActorHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sdk", r.Header.Get("X-Kiroku-Actor"))
		writeJSON(t, w, http.StatusOK, envelope([]ReportSummary{}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.ListReports(context.Background())
	require.NoError(t, err)
}

func TestEvolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports/rep_1/evolve", r.URL.Path)
		var req EvolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "record finding", req.Instruction)
		require.Len(t, req.Changes.InsightsToAdd, 1)

		writeJSON(t, w, http.StatusOK, envelope(EvolutionResult{
			ReportID:   "rep_1",
			OldVersion: 1,
			NewVersion: 2,
			Summary:    ChangeSummary{InsightsAdded: []string{"ins_1"}},
		}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Evolve(context.Background(), "rep_1", EvolveRequest{
		Instruction: "record finding",
		Changes: ProposedChanges{
			InsightsToAdd: []InsightDraft{{
				Summary:    "enterprise churn rose",
				Importance: 8,
				Citations:  []Citation{{ExecutionID: "exec_1"}},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewVersion)
	assert.Equal(t, []string{"ins_1"}, res.Summary.InsightsAdded)
}

func TestAuditPassesPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports/rep_1/audit", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeJSON(t, w, http.StatusOK, envelope([]AuditRecord{{Seq: 11, Actor: "analyst"}}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	recs, err := c.Audit(context.Background(), "rep_1", &AuditOptions{Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 11, recs[0].Seq)
}

func TestAuditUnwrapsListEnvelope(t *testing.T) {
	// The audit endpoint uses the list envelope, whose "data" key unwraps the
	// same way as the single-object envelope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data":     []AuditRecord{{Seq: 1}, {Seq: 2}},
			"total":    2,
			"has_more": false,
			"limit":    100,
			"offset":   0,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	recs, err := c.Audit(context.Background(), "rep_1", nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[1].Seq)
}

func TestVerifyAudit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports/rep_1/audit/verify", r.URL.Path)
		writeJSON(t, w, http.StatusOK, envelope(map[string]any{"valid": true}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.VerifyAudit(context.Background(), "rep_1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/reports/missing":
			writeJSON(t, w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "no report matches"},
			})
		case "/v1/reports/churn":
			writeJSON(t, w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "AMBIGUOUS_SELECTOR", "message": "selector is ambiguous"},
			})
		default:
			writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{"code": "VALIDATION_FAILED", "message": "semantic validation failed"},
			})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})

	_, err := c.GetReport(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	_, err = c.GetReport(context.Background(), "churn")
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))

	_, err = c.Evolve(context.Background(), "rep_1", EvolveRequest{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.ListReports(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream broke")
}

func TestTokenManagerCachesToken(t *testing.T) {
	var authCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			authCalls.Add(1)
			var req authRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "analyst", req.Actor)
			assert.Equal(t, "secret-key", req.APIKey)
			writeJSON(t, w, http.StatusOK, envelope(map[string]any{
				"token":      "tok_abc",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			}))
			return
		}
		assert.Equal(t, "Bearer tok_abc", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Kiroku-Actor"))
		writeJSON(t, w, http.StatusOK, envelope([]ReportSummary{}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Actor: "analyst", APIKey: "secret-key"})
	for i := 0; i < 3; i++ {
		_, err := c.ListReports(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), authCalls.Load())
}

func TestTokenManagerSurfacesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid api key"},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "wrong"})
	_, err := c.ListReports(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth failed")
}
