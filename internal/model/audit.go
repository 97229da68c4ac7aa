package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is the immutable log entry for one successful evolution.
// Records form a report-scoped append-only sequence ordered by Seq; no entry
// is ever rewritten or reordered. ContentHash covers the record's canonical
// fields and PrevHash chains it to the preceding record, so tampering with
// history is detectable (see internal/integrity).
type AuditRecord struct {
	AuditID       uuid.UUID      `json:"audit_id"`
	ReportID      string         `json:"report_id"`
	Seq           int            `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	Actor         string         `json:"actor"`
	Instruction   string         `json:"instruction"`
	BeforeVersion int            `json:"before_version"`
	AfterVersion  int            `json:"after_version"`
	Summary       ChangeSummary  `json:"summary"`
	Constraints   map[string]any `json:"constraints,omitempty"`
	ContentHash   string         `json:"content_hash"`
	PrevHash      string         `json:"prev_hash,omitempty"`
}
