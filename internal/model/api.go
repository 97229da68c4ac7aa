package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAmbiguous     = "AMBIGUOUS_SELECTOR"
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateReportRequest is the request body for POST /v1/reports.
type CreateReportRequest struct {
	Title    string         `json:"title"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EvolveRequest is the request body for POST /v1/reports/{selector}/evolve.
type EvolveRequest struct {
	Instruction string          `json:"instruction"`
	Changes     ProposedChanges `json:"changes"`
	Constraints Constraints     `json:"constraints,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
}

// EvolveBatchRequest is the request body for POST /v1/reports/{selector}/evolve-batch.
type EvolveBatchRequest struct {
	Instruction string      `json:"instruction"`
	Operations  []Operation `json:"operations"`
	Constraints Constraints `json:"constraints,omitempty"`
	DryRun      bool        `json:"dry_run,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Actor  string `json:"actor"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Reports int    `json:"reports"`
	Uptime  int64  `json:"uptime_seconds"`
}
