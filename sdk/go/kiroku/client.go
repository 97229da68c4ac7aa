package kiroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kiroku server (e.g. "http://localhost:8080").
	BaseURL string

	// Actor identifies this client in audit records. Defaults to "sdk".
	Actor string

	// APIKey is the secret used to obtain a JWT token. When empty the
	// client assumes the server runs with auth disabled and sends the
	// actor as a plain header instead.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kiroku living-report API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	actor    string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	actor := cfg.Actor
	if actor == "" {
		actor = "sdk"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		actor:   actor,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, actor, cfg.APIKey, httpClient)
	}
	return c
}

// CreateReport registers a new empty report at version 1.
func (c *Client) CreateReport(ctx context.Context, req CreateReportRequest) (*Report, error) {
	var resp Report
	if err := c.post(ctx, "/v1/reports", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReports returns summaries of all reports, ordered by creation time.
func (c *Client) ListReports(ctx context.Context) ([]ReportSummary, error) {
	var resp []ReportSummary
	if err := c.get(ctx, "/v1/reports", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetReport resolves a selector (ID, title, title substring, or tag) to one
// report and returns its full current snapshot.
func (c *Client) GetReport(ctx context.Context, selector string) (*Report, error) {
	var resp Report
	if err := c.get(ctx, "/v1/reports/"+url.PathEscape(selector), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve maps a selector to exactly one report summary without loading the
// full document. Ambiguous selectors fail with the full candidate list in
// the error details.
func (c *Client) Resolve(ctx context.Context, selector string) (*ReportSummary, error) {
	var resp ReportSummary
	if err := c.get(ctx, "/v1/reports/"+url.PathEscape(selector)+"/resolve", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Evolve submits one typed change payload against the selected report.
// Set req.DryRun to preview the result without committing.
func (c *Client) Evolve(ctx context.Context, selector string, req EvolveRequest) (*EvolutionResult, error) {
	var resp EvolutionResult
	if err := c.post(ctx, "/v1/reports/"+url.PathEscape(selector)+"/evolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvolveBatch submits an ordered operation list that commits as a single
// version bump with a single audit record.
func (c *Client) EvolveBatch(ctx context.Context, selector string, req EvolveBatchRequest) (*EvolutionResult, error) {
	var resp EvolutionResult
	if err := c.post(ctx, "/v1/reports/"+url.PathEscape(selector)+"/evolve-batch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditOptions control pagination for the Audit method.
type AuditOptions struct {
	Limit  int
	Offset int
}

// Audit returns a page of the selected report's audit trail, ordered by
// sequence ascending.
func (c *Client) Audit(ctx context.Context, selector string, opts *AuditOptions) ([]AuditRecord, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	path := "/v1/reports/" + url.PathEscape(selector) + "/audit"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []AuditRecord
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// VerifyAudit validates the selected report's full audit hash chain.
func (c *Client) VerifyAudit(ctx context.Context, selector string) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.get(ctx, "/v1/reports/"+url.PathEscape(selector)+"/audit/verify", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kiroku: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("X-Kiroku-Actor", c.actor)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiroku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kiroku: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
