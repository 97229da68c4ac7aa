package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/reports"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *reports.Service
	store               storage.Store
	authMgr             *auth.Manager // nil when auth is disabled
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	storeName           string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// AuthMgr may be nil (auth disabled).
type HandlersDeps struct {
	Service             *reports.Service
	Store               storage.Store
	AuthMgr             *auth.Manager
	Logger              *slog.Logger
	Version             string
	StoreName           string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		svc:                 d.Service,
		store:               d.Store,
		authMgr:             d.AuthMgr,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		storeName:           d.StoreName,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges the configured API key
// for a short-lived bearer token bound to the caller's actor name.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.authMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Actor == "" || len(req.Actor) > model.MaxActorLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor is required and must be at most 255 bytes")
		return
	}
	if !h.authMgr.VerifyKey(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, exp, err := h.authMgr.IssueToken(req.Actor)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: exp})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountReports(r.Context())
	status := "ok"
	if err != nil {
		h.logger.Warn("health: count reports", "error", err)
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Store:   h.storeName,
		Reports: n,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleCreateReport handles POST /v1/reports.
func (h *Handlers) HandleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req model.CreateReportRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	report, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, report)
}

// HandleListReports handles GET /v1/reports.
func (h *Handlers) HandleListReports(w http.ResponseWriter, r *http.Request) {
	sums, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sums)
}

// HandleGetReport handles GET /v1/reports/{selector}.
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Get(r.Context(), r.PathValue("selector"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleResolve handles GET /v1/reports/{selector}/resolve: maps a selector
// to exactly one report summary without loading the full document.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Resolve(r.Context(), r.PathValue("selector"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

// HandleAudit handles GET /v1/reports/{selector}/audit with limit/offset
// pagination.
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 1000 || offset < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be in [1,1000] and offset must not be negative")
		return
	}

	recs, err := h.svc.Audit(r.Context(), r.PathValue("selector"), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeListJSON(w, r, recs, len(recs), len(recs) == limit, limit, offset)
}

// HandleVerifyAudit handles GET /v1/reports/{selector}/audit/verify:
// recomputes the report's audit hash chain.
func (h *Handlers) HandleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	err := h.svc.VerifyAudit(r.Context(), r.PathValue("selector"))
	if err != nil {
		var resErr *reports.ResolutionError
		var execErr *reports.ExecutionError
		if errors.As(err, &resErr) || errors.As(err, &execErr) {
			writeServiceError(w, r, h.logger, err)
			return
		}
		// Chain verification failure is a finding, not a server fault.
		writeJSON(w, r, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"valid": true})
}

// HandleEvolve handles POST /v1/reports/{selector}/evolve.
func (h *Handlers) HandleEvolve(w http.ResponseWriter, r *http.Request) {
	var req model.EvolveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	result, err := h.svc.Evolve(r.Context(), r.PathValue("selector"), ActorFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleEvolveBatch handles POST /v1/reports/{selector}/evolve-batch: an
// ordered operation list applied as one atomic evolution.
func (h *Handlers) HandleEvolveBatch(w http.ResponseWriter, r *http.Request) {
	var req model.EvolveBatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	result, err := h.svc.EvolveBatch(r.Context(), r.PathValue("selector"), ActorFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// writeListJSON writes a paged list response with the standard envelope.
func writeListJSON(w http.ResponseWriter, r *http.Request, data any, total int, hasMore bool, limit, offset int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		Total:   total,
		HasMore: hasMore,
		Limit:   limit,
		Offset:  offset,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
