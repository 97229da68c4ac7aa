// Command verify-audit-chains walks every report in a store and validates
// its full audit hash chain offline. Use it to check a database that was
// copied, restored from backup, or touched outside the server.
//
// Usage:
//
//	go run ./scripts/verify-audit-chains                         # sqlite, kiroku.db
//	KIROKU_STORE_PATH=/data/kiroku.db go run ./scripts/verify-audit-chains
//	DATABASE_URL=postgres://... KIROKU_STORE=postgres go run ./scripts/verify-audit-chains
//
// Exits non-zero if any chain fails verification.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/internal/integrity"
	"github.com/ashita-ai/kiroku/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListSummaries(ctx)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	failed := 0
	for _, sum := range summaries {
		records, err := store.ListAudit(ctx, sum.ReportID, 0, 0)
		if err != nil {
			return fmt.Errorf("list audit for %s: %w", sum.ReportID, err)
		}
		if err := integrity.VerifyChain(records); err != nil {
			failed++
			fmt.Printf("FAIL %s (%q, %d records): %v\n", sum.ReportID, sum.Title, len(records), err)
			continue
		}
		fmt.Printf("ok   %s (%q, %d records)\n", sum.ReportID, sum.Title, len(records))
	}

	fmt.Printf("verified %d reports, %d failed\n", len(summaries), failed)
	if failed > 0 {
		return fmt.Errorf("%d audit chain(s) failed verification", failed)
	}
	return nil
}

func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, error) {
	if os.Getenv("KIROKU_STORE") == "postgres" {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when KIROKU_STORE=postgres")
		}
		return storage.NewPostgresStore(ctx, dsn, logger)
	}
	path := os.Getenv("KIROKU_STORE_PATH")
	if path == "" {
		path = "kiroku.db"
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite database %s: %w", path, err)
	}
	return storage.NewSQLiteStore(ctx, path, logger)
}
