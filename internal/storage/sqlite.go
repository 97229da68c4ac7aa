package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/migrations"
)

// SQLiteStore is the default single-file backend. It needs no external
// service, which is why a bare `kiroku` invocation works out of the box.
//
// The pool is capped at one connection: SQLite has a single writer anyway,
// and serializing access through the pool avoids SQLITE_BUSY churn under the
// engine's concurrent per-report locks.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// pending migrations. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, logger: logger}
	sub, err := fs.Sub(migrations.SQLite, "sqlite")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: sqlite migrations fs: %w", err)
	}
	if err := runSQLMigrations(ctx, db, sub, logger); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// runSQLMigrations executes unapplied .sql files from migrationsFS in name
// order, tracking applied files in a schema_migrations table so each runs at
// most once. Forward-only.
func runSQLMigrations(ctx context.Context, db *sql.DB, migrationsFS fs.FS, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
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
		logger.Info("running migration", "file", name)
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateReport(ctx context.Context, r model.Report) error {
	doc, tags, err := encodeReport(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (report_id, title, tags, version, section_count, insight_count, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReportID, r.Title, tags, r.Version, len(r.Sections), len(r.Insights), doc,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("storage: insert report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadReport(ctx context.Context, reportID string) (model.Report, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM reports WHERE report_id = ?`, reportID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, ErrNotFound
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("storage: load report: %w", err)
	}
	return decodeReport(doc)
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r model.Report, expectedVersion int) error {
	doc, tags, err := encodeReport(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET title = ?, tags = ?, version = ?, section_count = ?, insight_count = ?, doc = ?, updated_at = ?
		WHERE report_id = ? AND version = ?`,
		r.Title, tags, r.Version, len(r.Sections), len(r.Insights), doc,
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		r.ReportID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("storage: save report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: save report: %w", err)
	}
	if n == 0 {
		return s.saveMiss(ctx, r.ReportID)
	}
	return nil
}

// saveMiss distinguishes a missing report from a stale expected version.
func (s *SQLiteStore) saveMiss(ctx context.Context, reportID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reports WHERE report_id = ?`, reportID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: save report: %w", err)
	}
	return ErrVersionConflict
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	summary, constraints, err := encodeAudit(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AuditID.String(), rec.ReportID, rec.Seq,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Actor, rec.Instruction, rec.BeforeVersion, rec.AfterVersion,
		summary, constraints, rec.ContentHash, rec.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HeadAudit(ctx context.Context, reportID string) (model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash
		FROM audit_records WHERE report_id = ? ORDER BY seq DESC LIMIT 1`, reportID)
	rec, err := scanAudit(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, reportID string, limit, offset int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, report_id, seq, ts, actor, instruction, before_version, after_version, summary, constraints, content_hash, prev_hash
		FROM audit_records WHERE report_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		reportID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	recs := []model.AuditRecord{}
	for rows.Next() {
		rec, err := scanAudit(rows.Scan)
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

func (s *SQLiteStore) ListSummaries(ctx context.Context) ([]model.ReportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			tags      string
			updatedAt string
		)
		if err := rows.Scan(&sum.ReportID, &sum.Title, &tags, &sum.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &sum.Tags); err != nil {
			return nil, fmt.Errorf("storage: decode tags: %w", err)
		}
		sum.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: parse updated_at: %w", err)
		}
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list summaries: %w", err)
	}
	return sums, nil
}

func (s *SQLiteStore) CountReports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count reports: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeReport(r model.Report) (doc, tags string, err error) {
	d, err := json.Marshal(r)
	if err != nil {
		return "", "", fmt.Errorf("storage: encode report: %w", err)
	}
	t, err := json.Marshal(r.Tags)
	if err != nil {
		return "", "", fmt.Errorf("storage: encode tags: %w", err)
	}
	if r.Tags == nil {
		t = []byte("[]")
	}
	return string(d), string(t), nil
}

func decodeReport(doc string) (model.Report, error) {
	var r model.Report
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return model.Report{}, fmt.Errorf("storage: decode report: %w", err)
	}
	return r, nil
}

func encodeAudit(rec model.AuditRecord) (summary string, constraints sql.NullString, err error) {
	s, err := json.Marshal(rec.Summary)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("storage: encode summary: %w", err)
	}
	if len(rec.Constraints) > 0 {
		c, err := json.Marshal(rec.Constraints)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("storage: encode constraints: %w", err)
		}
		constraints = sql.NullString{String: string(c), Valid: true}
	}
	return string(s), constraints, nil
}

// scanAudit decodes one audit row. The scan argument abstracts over
// sql.Row.Scan and sql.Rows.Scan.
func scanAudit(scan func(...any) error) (model.AuditRecord, error) {
	var (
		rec         model.AuditRecord
		auditID     string
		ts          string
		summary     string
		constraints sql.NullString
	)
	err := scan(&auditID, &rec.ReportID, &rec.Seq, &ts, &rec.Actor, &rec.Instruction,
		&rec.BeforeVersion, &rec.AfterVersion, &summary, &constraints,
		&rec.ContentHash, &rec.PrevHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuditRecord{}, err
		}
		return model.AuditRecord{}, fmt.Errorf("storage: scan audit: %w", err)
	}
	rec.AuditID, err = uuid.Parse(auditID)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: parse audit id: %w", err)
	}
	rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: parse audit timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: decode summary: %w", err)
	}
	if constraints.Valid && constraints.String != "" {
		if err := json.Unmarshal([]byte(constraints.String), &rec.Constraints); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: decode constraints: %w", err)
		}
	}
	return rec, nil
}
