// Package kiroku is the public API for embedding the Kiroku report
// evolution server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	    kiroku.WithEvolutionHook(myAuditMirror),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kiroku (root) imports
// internal/*, but internal/* never imports kiroku (root). Public types
// (EvolutionEvent, ChangeSummary) are standalone structs with no internal
// imports; conversion helpers (toPublicEvent) live here because this is the
// only file that sees both sides of the boundary.
package kiroku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/api"
	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/mcp"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/reports"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// App is the Kiroku server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	svc          *reports.Service
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New constructs an App from environment config plus the given options.
// It opens the storage backend and runs migrations, but does not start
// listening — call Run for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Best-effort .env load for local development; real deployments set
	// env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("kiroku: load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kiroku: invalid config: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("kiroku: init telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	var authMgr *auth.Manager
	if cfg.AuthEnabled() {
		authMgr, err = auth.NewManager(cfg.APIKey, cfg.JWTSecret, cfg.JWTExpiration)
		if err != nil {
			_ = store.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("kiroku: init auth: %w", err)
		}
	}

	hooks := make([]reports.EvolutionHook, 0, len(o.hooks))
	for _, hook := range o.hooks {
		hooks = append(hooks, adaptHook(hook))
	}
	svc := reports.New(store, logger, hooks...)

	if cfg.SeedFile != "" {
		if err := seedReports(ctx, svc, cfg.SeedFile, logger); err != nil {
			_ = store.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("kiroku: seed reports: %w", err)
		}
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(svc, version, logger)

	srv := server.New(server.ServerConfig{
		Service:             svc,
		Store:               store,
		Logger:              logger,
		AuthMgr:             authMgr,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StoreName:           cfg.Store,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		svc:          svc,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On cancellation it performs a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting kiroku",
		"version", a.version,
		"port", a.cfg.Port,
		"store", a.cfg.Store,
		"auth", a.cfg.AuthEnabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("kiroku: server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the server, then closes the rate limiter,
// telemetry exporters, and storage, in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("kiroku: shutdown server: %w", err))
	}
	if err := a.limiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("kiroku: close limiter: %w", err))
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("kiroku: shutdown telemetry: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("kiroku: close store: %w", err))
	}
	return errors.Join(errs...)
}

// Handler returns the fully assembled HTTP handler, for embedding the
// server in an existing mux or test harness without binding a port.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := storage.NewSQLiteStore(ctx, cfg.StorePath, logger)
		if err != nil {
			return nil, fmt.Errorf("kiroku: open sqlite store: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("kiroku: open postgres store: %w", err)
		}
		return st, nil
	case config.StoreMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("kiroku: unknown store backend %q", cfg.Store)
	}
}

// seedReports loads reports from a JSON file at startup. The file holds an
// array of create requests. Seeding is idempotent per title: entries whose
// title already resolves to an existing report are skipped.
func seedReports(ctx context.Context, svc *reports.Service, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var reqs []model.CreateReportRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	existing, err := svc.List(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		have[s.Title] = true
	}

	created := 0
	for _, req := range reqs {
		if have[req.Title] {
			continue
		}
		if _, err := svc.Create(ctx, req); err != nil {
			return fmt.Errorf("create %q: %w", req.Title, err)
		}
		created++
	}
	if created > 0 {
		logger.Info("seeded reports", "file", path, "created", created, "skipped", len(reqs)-created)
	}
	return nil
}

func adaptHook(hook EvolutionHook) reports.EvolutionHook {
	return func(ctx context.Context, result model.EvolutionResult, rec model.AuditRecord) {
		hook(ctx, toPublicEvent(result, rec))
	}
}

func toPublicEvent(result model.EvolutionResult, rec model.AuditRecord) EvolutionEvent {
	return EvolutionEvent{
		ReportID:    result.ReportID,
		Title:       result.Title,
		OldVersion:  result.OldVersion,
		NewVersion:  result.NewVersion,
		Actor:       rec.Actor,
		Instruction: rec.Instruction,
		Seq:         rec.Seq,
		ContentHash: rec.ContentHash,
		PrevHash:    rec.PrevHash,
		Timestamp:   rec.Timestamp,
		Summary: ChangeSummary{
			InsightsAdded:    rec.Summary.InsightsAdded,
			InsightsModified: rec.Summary.InsightsModified,
			InsightsRemoved:  rec.Summary.InsightsRemoved,
			SectionsAdded:    rec.Summary.SectionsAdded,
			SectionsModified: rec.Summary.SectionsModified,
			SectionsRemoved:  rec.Summary.SectionsRemoved,
		},
	}
}
