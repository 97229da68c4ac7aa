package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/service/reports"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Server is the kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): AuthMgr, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Service *reports.Service
	Store   storage.Store
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	AuthMgr   *auth.Manager
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	StoreName           string
	MaxRequestBodyBytes int64

	// OpenAPISpec, when non-nil, is served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Service:             cfg.Service,
		Store:               cfg.Store,
		AuthMgr:             cfg.AuthMgr,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		StoreName:           cfg.StoreName,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Writes are limited per actor, reads per actor too; the token exchange
	// is limited by IP since it runs before any identity exists.
	rl := ratelimit.Middleware(cfg.Limiter, actorKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Report lifecycle.
	mux.Handle("POST /v1/reports", rl(http.HandlerFunc(h.HandleCreateReport)))
	mux.Handle("GET /v1/reports", rl(http.HandlerFunc(h.HandleListReports)))
	mux.Handle("GET /v1/reports/{selector}", rl(http.HandlerFunc(h.HandleGetReport)))
	mux.Handle("GET /v1/reports/{selector}/resolve", rl(http.HandlerFunc(h.HandleResolve)))

	// Evolution.
	mux.Handle("POST /v1/reports/{selector}/evolve", rl(http.HandlerFunc(h.HandleEvolve)))
	mux.Handle("POST /v1/reports/{selector}/evolve-batch", rl(http.HandlerFunc(h.HandleEvolveBatch)))

	// Audit trail.
	mux.Handle("GET /v1/reports/{selector}/audit", rl(http.HandlerFunc(h.HandleAudit)))
	mux.Handle("GET /v1/reports/{selector}/audit/verify", rl(http.HandlerFunc(h.HandleVerifyAudit)))

	// MCP StreamableHTTP transport (shares the auth middleware).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// API specification (no auth).
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.AuthMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// actorKeyFunc extracts the authenticated actor for rate limiting, falling
// back to the client IP for anonymous traffic.
func actorKeyFunc(r *http.Request) string {
	if actor := ActorFromContext(r.Context()); actor != "" && actor != "anonymous" {
		return "actor:" + actor
	}
	return "ip:" + ratelimit.IPKeyFunc(r)
}

// Handlers returns the underlying Handlers for use in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
