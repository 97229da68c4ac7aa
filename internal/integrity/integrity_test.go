package integrity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func chainRecord(reportID string, seq int, prevHash string) model.AuditRecord {
	rec := model.AuditRecord{
		AuditID:       uuid.New(),
		ReportID:      reportID,
		Seq:           seq,
		Timestamp:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute),
		Actor:         "analyst",
		Instruction:   "add quarterly findings",
		BeforeVersion: seq,
		AfterVersion:  seq + 1,
		Summary:       model.NewChangeSummary(),
		PrevHash:      prevHash,
	}
	rec.Summary.InsightsAdded = append(rec.Summary.InsightsAdded, "ins_1")
	rec.ContentHash = ComputeContentHash(rec)
	return rec
}

func buildChain(reportID string, n int) []model.AuditRecord {
	records := make([]model.AuditRecord, 0, n)
	prev := ""
	for seq := 1; seq <= n; seq++ {
		rec := chainRecord(reportID, seq, prev)
		records = append(records, rec)
		prev = rec.ContentHash
	}
	return records
}

func TestComputeContentHashDeterministic(t *testing.T) {
	rec := chainRecord("rep_1", 1, "")
	assert.Equal(t, rec.ContentHash, ComputeContentHash(rec))
	assert.True(t, VerifyRecord(rec))
}

func TestComputeContentHashVersionPrefix(t *testing.T) {
	rec := chainRecord("rep_1", 1, "")
	assert.Contains(t, rec.ContentHash, "v1:")
	// 64 hex chars after the prefix.
	assert.Len(t, rec.ContentHash, len("v1:")+64)
}

func TestHashCoversEveryCanonicalField(t *testing.T) {
	base := chainRecord("rep_1", 1, "")
	mutations := map[string]func(*model.AuditRecord){
		"audit_id":       func(r *model.AuditRecord) { r.AuditID = uuid.New() },
		"report_id":      func(r *model.AuditRecord) { r.ReportID = "rep_other" },
		"seq":            func(r *model.AuditRecord) { r.Seq++ },
		"timestamp":      func(r *model.AuditRecord) { r.Timestamp = r.Timestamp.Add(time.Nanosecond) },
		"actor":          func(r *model.AuditRecord) { r.Actor = "impostor" },
		"instruction":    func(r *model.AuditRecord) { r.Instruction = "something else" },
		"before_version": func(r *model.AuditRecord) { r.BeforeVersion++ },
		"after_version":  func(r *model.AuditRecord) { r.AfterVersion++ },
		"summary":        func(r *model.AuditRecord) { r.Summary.InsightsRemoved = []string{"ins_9"} },
		"constraints":    func(r *model.AuditRecord) { r.Constraints = map[string]any{"allow_uncited": true} },
		"prev_hash":      func(r *model.AuditRecord) { r.PrevHash = "v1:deadbeef" },
	}
	for field, mutate := range mutations {
		rec := base
		mutate(&rec)
		assert.NotEqual(t, base.ContentHash, ComputeContentHash(rec), "mutating %s must change the hash", field)
	}
}

func TestVerifyRecordRejectsUnknownPrefix(t *testing.T) {
	rec := chainRecord("rep_1", 1, "")
	rec.ContentHash = "v2:" + rec.ContentHash[len("v1:"):]
	assert.False(t, VerifyRecord(rec))
}

func TestVerifyChainEmpty(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
}

func TestVerifyChainValid(t *testing.T) {
	assert.NoError(t, VerifyChain(buildChain("rep_1", 5)))
}

func TestVerifyChainDetectsTamperedRecord(t *testing.T) {
	records := buildChain("rep_1", 4)
	records[2].Instruction = "rewritten history"
	err := VerifyChain(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content hash mismatch")
}

func TestVerifyChainDetectsDroppedRecord(t *testing.T) {
	records := buildChain("rep_1", 4)
	// Dropping record 2 leaves a sequence gap.
	err := VerifyChain(append(records[:1], records[2:]...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestVerifyChainDetectsRelinkedHash(t *testing.T) {
	records := buildChain("rep_1", 3)
	// Recompute record 1's hash after tampering: the record itself verifies,
	// but record 2's prev_hash no longer matches.
	records[0].Instruction = "tampered"
	records[0].ContentHash = ComputeContentHash(records[0])
	err := VerifyChain(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken chain")
}

func TestVerifyChainRejectsNonEmptyFirstPrevHash(t *testing.T) {
	records := buildChain("rep_1", 2)
	err := VerifyChain(records[1:])
	require.Error(t, err)
}
