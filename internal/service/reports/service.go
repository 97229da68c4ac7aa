// Package reports implements the report evolution engine: selector
// resolution, schema and semantic validation, atomic application of proposed
// changes, and audit logging.
//
// Both the HTTP API and MCP server delegate to this service, so every
// surface gets identical validation, locking, and audit behavior.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kiroku/internal/integrity"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// EvolutionHook is called after every committed (non-dry-run) evolution.
// Hooks run asynchronously and must not mutate their arguments.
type EvolutionHook func(ctx context.Context, result model.EvolutionResult, rec model.AuditRecord)

// Service encapsulates report evolution logic shared by HTTP and MCP
// handlers. All writes go through the per-report lock table: evolutions take
// the exclusive lock, reads and dry runs the shared lock, and reports never
// contend with each other.
type Service struct {
	store    storage.Store
	resolver *Resolver
	locks    *lockTable
	logger   *slog.Logger
	hooks    []EvolutionHook
	now      func() time.Time

	evolutionsTotal   metric.Int64Counter
	evolutionDuration metric.Float64Histogram
	validationFailed  metric.Int64Counter
}

// New creates a report Service backed by store.
func New(store storage.Store, logger *slog.Logger, hooks ...EvolutionHook) *Service {
	meter := telemetry.Meter("kiroku/reports")
	evoTotal, _ := meter.Int64Counter("kiroku.evolutions.total",
		metric.WithDescription("Committed evolutions, by dry_run"),
	)
	evoDur, _ := meter.Float64Histogram("kiroku.evolution.duration",
		metric.WithDescription("End-to-end evolve pipeline time (ms)"),
		metric.WithUnit("ms"),
	)
	valFailed, _ := meter.Int64Counter("kiroku.validation.failures",
		metric.WithDescription("Evolutions rejected by validation, by stage"),
	)
	return &Service{
		store:             store,
		resolver:          NewResolver(store, logger),
		locks:             newLockTable(),
		logger:            logger,
		hooks:             hooks,
		now:               time.Now,
		evolutionsTotal:   evoTotal,
		evolutionDuration: evoDur,
		validationFailed:  valFailed,
	}
}

// Create validates and persists a brand-new report at version 1.
func (s *Service) Create(ctx context.Context, req model.CreateReportRequest) (model.Report, error) {
	if err := model.ValidateTitle(req.Title); err != nil {
		return model.Report{}, &ValidationError{
			Stage:  "schema",
			Errors: []FieldError{{Field: "title", Message: err.Error()}},
		}
	}
	for i, tag := range req.Tags {
		if err := model.ValidateTag(tag); err != nil {
			return model.Report{}, &ValidationError{
				Stage:  "schema",
				Errors: []FieldError{{Field: fmt.Sprintf("tags[%d]", i), Message: err.Error()}},
			}
		}
	}
	r := model.NewReport(req.Title, req.Tags, req.Metadata)
	r.CreatedAt = s.now().UTC()
	r.UpdatedAt = r.CreatedAt
	if err := s.store.CreateReport(ctx, r); err != nil {
		return model.Report{}, &ExecutionError{Op: "create report", Err: err}
	}
	s.resolver.Invalidate()
	s.logger.Info("report created", "report_id", r.ReportID, "title", r.Title)
	return r, nil
}

// Resolve maps a selector to exactly one report summary without loading the
// full document.
func (s *Service) Resolve(ctx context.Context, selector string) (model.ReportSummary, error) {
	return s.resolver.Resolve(ctx, selector)
}

// Get resolves a selector and returns the full current report snapshot.
func (s *Service) Get(ctx context.Context, selector string) (model.Report, error) {
	sum, err := s.resolver.Resolve(ctx, selector)
	if err != nil {
		return model.Report{}, err
	}
	unlock := s.locks.Shared(sum.ReportID)
	defer unlock()
	r, err := s.store.LoadReport(ctx, sum.ReportID)
	if err != nil {
		return model.Report{}, &ExecutionError{Op: "load report", Err: err}
	}
	return r, nil
}

// List returns summaries of all reports, ordered by creation time.
func (s *Service) List(ctx context.Context) ([]model.ReportSummary, error) {
	sums, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, &ExecutionError{Op: "list reports", Err: err}
	}
	return sums, nil
}

// Audit resolves a selector and returns a page of the report's audit trail,
// ordered by sequence ascending.
func (s *Service) Audit(ctx context.Context, selector string, limit, offset int) ([]model.AuditRecord, error) {
	sum, err := s.resolver.Resolve(ctx, selector)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Shared(sum.ReportID)
	defer unlock()
	recs, err := s.store.ListAudit(ctx, sum.ReportID, limit, offset)
	if err != nil {
		return nil, &ExecutionError{Op: "list audit", Err: err}
	}
	return recs, nil
}

// VerifyAudit resolves a selector and validates the report's full audit hash
// chain.
func (s *Service) VerifyAudit(ctx context.Context, selector string) error {
	sum, err := s.resolver.Resolve(ctx, selector)
	if err != nil {
		return err
	}
	unlock := s.locks.Shared(sum.ReportID)
	defer unlock()
	recs, err := s.store.ListAudit(ctx, sum.ReportID, 0, 0)
	if err != nil {
		return &ExecutionError{Op: "list audit", Err: err}
	}
	return integrity.VerifyChain(recs)
}

// Evolve runs the full pipeline for one change payload: resolve → schema
// validation → semantic validation against the locked current state → apply
// → persist snapshot and audit record atomically under the exclusive lock.
//
// Dry runs take the shared lock, run the identical pipeline, and return the
// would-be result without persisting or logging an audit record.
func (s *Service) Evolve(ctx context.Context, selector, actor string, req model.EvolveRequest) (model.EvolutionResult, error) {
	start := s.now()
	res, err := s.evolve(ctx, selector, actor, req)
	s.evolutionDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.validationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", verr.Stage)))
		}
		return model.EvolutionResult{}, err
	}
	s.evolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("dry_run", req.DryRun)))
	return res, nil
}

// EvolveBatch folds an ordered operation list into one change payload and
// runs it through Evolve, so the batch commits as a single version bump with
// a single audit record.
func (s *Service) EvolveBatch(ctx context.Context, selector, actor string, req model.EvolveBatchRequest) (model.EvolutionResult, error) {
	pc, err := model.FoldOperations(req.Operations)
	if err != nil {
		return model.EvolutionResult{}, &ValidationError{
			Stage:  "schema",
			Errors: []FieldError{{Field: "operations", Message: err.Error()}},
		}
	}
	return s.Evolve(ctx, selector, actor, model.EvolveRequest{
		Instruction: req.Instruction,
		Changes:     pc,
		Constraints: req.Constraints,
		DryRun:      req.DryRun,
	})
}

func (s *Service) evolve(ctx context.Context, selector, actor string, req model.EvolveRequest) (model.EvolutionResult, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("kiroku.selector", selector),
		attribute.Bool("kiroku.dry_run", req.DryRun),
	)

	if len(req.Instruction) > model.MaxInstructionLen {
		return model.EvolutionResult{}, &ValidationError{
			Stage:  "schema",
			Errors: []FieldError{{Field: "instruction", Message: fmt.Sprintf("must be at most %d bytes", model.MaxInstructionLen)}},
		}
	}

	// Schema validation is state-independent, so it runs before any lock.
	if errs := ValidateSchema(req.Changes); len(errs) > 0 {
		return model.EvolutionResult{}, &ValidationError{Stage: "schema", Errors: errs}
	}

	sum, err := s.resolver.Resolve(ctx, selector)
	if err != nil {
		return model.EvolutionResult{}, err
	}
	span.SetAttributes(attribute.String("kiroku.report_id", sum.ReportID))

	var unlock func()
	if req.DryRun {
		unlock = s.locks.Shared(sum.ReportID)
	} else {
		unlock = s.locks.Exclusive(sum.ReportID)
	}
	defer unlock()

	current, err := s.store.LoadReport(ctx, sum.ReportID)
	if err != nil {
		return model.EvolutionResult{}, &ExecutionError{Op: "load report", Err: err}
	}

	if errs := ValidateSemantic(current, req.Changes, req.Constraints); len(errs) > 0 {
		return model.EvolutionResult{}, &ValidationError{Stage: "semantic", Errors: errs}
	}

	now := s.now()
	updated, summary := Apply(current, req.Changes, now)

	result := model.EvolutionResult{
		ReportID:   updated.ReportID,
		Title:      updated.Title,
		OldVersion: current.Version,
		NewVersion: updated.Version,
		DryRun:     req.DryRun,
		Summary:    summary,
	}

	if req.DryRun {
		s.logger.Info("dry run evaluated",
			"report_id", updated.ReportID,
			"would_be_version", updated.Version,
			"changes", summary.Total(),
		)
		return result, nil
	}

	rec := model.AuditRecord{
		AuditID:       uuid.New(),
		ReportID:      updated.ReportID,
		Seq:           1,
		Timestamp:     now.UTC(),
		Actor:         actor,
		Instruction:   req.Instruction,
		BeforeVersion: current.Version,
		AfterVersion:  updated.Version,
		Summary:       summary,
		Constraints:   req.Constraints,
	}
	head, err := s.store.HeadAudit(ctx, updated.ReportID)
	switch {
	case err == nil:
		rec.Seq = head.Seq + 1
		rec.PrevHash = head.ContentHash
	case errors.Is(err, storage.ErrNotFound):
		// First evolution: Seq 1, empty PrevHash.
	default:
		return model.EvolutionResult{}, &ExecutionError{Op: "read audit head", Err: err}
	}
	rec.ContentHash = integrity.ComputeContentHash(rec)

	if err := s.store.SaveReport(ctx, updated, current.Version); err != nil {
		return model.EvolutionResult{}, &ExecutionError{Op: "save report", Err: err}
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		return model.EvolutionResult{}, &ExecutionError{Op: "append audit", Err: err}
	}
	s.resolver.Invalidate()

	s.logger.Info("report evolved",
		"report_id", updated.ReportID,
		"actor", actor,
		"old_version", current.Version,
		"new_version", updated.Version,
		"changes", summary.Total(),
		"audit_seq", rec.Seq,
	)

	s.runHooks(result, rec)
	return result, nil
}

// runHooks dispatches hooks on a detached context so a slow hook never
// blocks the caller and a cancelled request never aborts one mid-flight.
func (s *Service) runHooks(result model.EvolutionResult, rec model.AuditRecord) {
	for _, hook := range s.hooks {
		h := hook
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("evolution hook panicked", "panic", r, "report_id", result.ReportID)
				}
			}()
			h(context.Background(), result, rec)
		}()
	}
}
