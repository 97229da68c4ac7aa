package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/migrations"
)

// PostgresStore backs the engine with a pgx connection pool, for deployments
// where multiple kiroku instances share one database. The per-report lock
// table only coordinates within a process; the version check in SaveReport is
// what keeps cross-instance writers from clobbering each other.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, verifies the connection, and runs
// pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	s := &PostgresStore{pool: pool, logger: logger}
	sub, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: postgres migrations fs: %w", err)
	}
	if err := s.runMigrations(ctx, sub); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// runMigrations executes unapplied .sql files in name order, tracking
// applied files in a schema_migrations table. Forward-only.
func (s *PostgresStore) runMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		s.logger.Info("running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, r model.Report) error {
	doc, tags, err := encodeReport(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (report_id, title, tags, version, section_count, insight_count, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ReportID, r.Title, tags, r.Version, len(r.Sections), len(r.Insights), doc,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("storage: insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadReport(ctx context.Context, reportID string) (model.Report, error) {
	var doc string
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM reports WHERE report_id = $1`, reportID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Report{}, ErrNotFound
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("storage: load report: %w", err)
	}
	return decodeReport(doc)
}

func (s *PostgresStore) SaveReport(ctx context.Context, r model.Report, expectedVersion int) error {
	doc, tags, err := encodeReport(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reports
		SET title = $1, tags = $2, version = $3, section_count = $4, insight_count = $5, doc = $6, updated_at = $7
		WHERE report_id = $8 AND version = $9`,
		r.Title, tags, r.Version, len(r.Sections), len(r.Insights), doc,
		r.UpdatedAt.UTC(), r.ReportID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("storage: save report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM reports WHERE report_id = $1`, r.ReportID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: save report: %w", err)
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("storage: encode summary: %w", err)
	}
	var constraints []byte
	if len(rec.Constraints) > 0 {
		constraints, err = json.Marshal(rec.Constraints)
		if err != nil {
			return fmt.Errorf("storage: encode constraints: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_records (audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.AuditID, rec.ReportID, rec.Seq, rec.Timestamp.UTC(),
		rec.Actor, rec.Instruction, rec.BeforeVersion, rec.AfterVersion,
		summary, constraints, rec.ContentHash, rec.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) HeadAudit(ctx context.Context, reportID string) (model.AuditRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash
		FROM audit_records WHERE report_id = $1 ORDER BY seq DESC LIMIT 1`, reportID)
	rec, err := s.scanAuditRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuditRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListAudit(ctx context.Context, reportID string, limit, offset int) ([]model.AuditRecord, error) {
	q := `
		SELECT audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash
		FROM audit_records WHERE report_id = $1 ORDER BY seq ASC OFFSET $2`
	args := []any{reportID, offset}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	recs := []model.AuditRecord{}
	for rows.Next() {
		rec, err := s.scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) scanAuditRow(row pgx.Row) (model.AuditRecord, error) {
	var (
		rec         model.AuditRecord
		ts          time.Time
		summary     []byte
		constraints []byte
	)
	err := row.Scan(&rec.AuditID, &rec.ReportID, &rec.Seq, &ts, &rec.Actor, &rec.Instruction,
		&rec.BeforeVersion, &rec.AfterVersion, &summary, &constraints,
		&rec.ContentHash, &rec.PrevHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuditRecord{}, err
		}
		return model.AuditRecord{}, fmt.Errorf("storage: scan audit: %w", err)
	}
	rec.Timestamp = ts.UTC()
	if err := json.Unmarshal(summary, &rec.Summary); err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: decode summary: %w", err)
	}
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &rec.Constraints); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: decode constraints: %w", err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context) ([]model.ReportSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT report_id, title, tags, version, updated_at
		FROM reports ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list summaries: %w", err)
	}
	defer rows.Close()

	sums := []model.ReportSummary{}
	for rows.Next() {
		var (
			sum       model.ReportSummary
			tags      []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&sum.ReportID, &sum.Title, &tags, &sum.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		if err := json.Unmarshal(tags, &sum.Tags); err != nil {
			return nil, fmt.Errorf("storage: decode tags: %w", err)
		}
		sum.UpdatedAt = updatedAt.UTC()
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list summaries: %w", err)
	}
	return sums, nil
}

func (s *PostgresStore) CountReports(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count reports: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
