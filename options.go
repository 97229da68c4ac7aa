package kiroku

import (
	"context"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// EvolutionHook receives every committed evolution after it is persisted.
// Hooks run asynchronously and must not block on the request context.
type EvolutionHook func(ctx context.Context, ev EvolutionEvent)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	store       string
	storePath   string
	databaseURL string
	logger      *slog.Logger
	version     string
	hooks       []EvolutionHook
}

// WithPort overrides the TCP port from config (KIROKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStore overrides the storage backend from config (KIROKU_STORE env
// var). Valid values: "sqlite", "postgres", "memory".
func WithStore(store string) Option {
	return func(o *resolvedOptions) { o.store = store }
}

// WithStorePath overrides the SQLite database file path from config
// (KIROKU_STORE_PATH env var). Only read when the backend is sqlite.
func WithStorePath(path string) Option {
	return func(o *resolvedOptions) { o.storePath = path }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). Only read when the backend is postgres.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEvolutionHook registers a hook to receive committed evolutions.
// Multiple hooks may be registered; all registered hooks receive every event.
func WithEvolutionHook(hook EvolutionHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, hook) }
}
