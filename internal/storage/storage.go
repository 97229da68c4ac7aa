// Package storage defines the persistence contract for reports and their
// audit trails, with SQLite (default), PostgreSQL, and in-memory backends.
//
// Reports are persisted as whole snapshots: SaveReport replaces the full
// report document atomically inside a transaction, guarded by an optimistic
// version check that backs the engine's per-report lock discipline. Audit
// records are append-only; nothing in this package ever updates or deletes
// one.
package storage

import (
	"context"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Store is the persistence interface the evolution engine runs against.
// Implementations must make SaveReport and AppendAudit individually atomic:
// a crash mid-write leaves either the old state or the new state, never a
// partial document.
type Store interface {
	// CreateReport persists a brand-new report. Returns ErrDuplicateID if
	// the report ID is already taken.
	CreateReport(ctx context.Context, r model.Report) error

	// LoadReport returns the current snapshot of a report by exact ID.
	// Returns ErrNotFound if no such report exists.
	LoadReport(ctx context.Context, reportID string) (model.Report, error)

	// SaveReport atomically replaces a report's snapshot. The write only
	// succeeds if the stored version equals expectedVersion; otherwise it
	// returns ErrVersionConflict and leaves the stored state untouched.
	SaveReport(ctx context.Context, r model.Report, expectedVersion int) error

	// AppendAudit appends one record to a report's audit trail.
	AppendAudit(ctx context.Context, rec model.AuditRecord) error

	// HeadAudit returns the most recent audit record for a report, or
	// ErrNotFound if the trail is empty.
	HeadAudit(ctx context.Context, reportID string) (model.AuditRecord, error)

	// ListAudit returns a report's audit records ordered by Seq ascending,
	// with offset/limit pagination. limit <= 0 means no limit.
	ListAudit(ctx context.Context, reportID string, limit, offset int) ([]model.AuditRecord, error)

	// ListSummaries returns lightweight summaries of every report, used by
	// the selector resolver's registry. Ordered by created_at ascending so
	// resolution candidates are stable across calls.
	ListSummaries(ctx context.Context) ([]model.ReportSummary, error)

	// CountReports returns the number of stored reports.
	CountReports(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}
