package kiroku

import "time"

// ChangeSummary lists the IDs touched by a single committed evolution,
// grouped by element kind and mutation.
type ChangeSummary struct {
	InsightsAdded    []string
	InsightsModified []string
	InsightsRemoved  []string
	SectionsAdded    []string
	SectionsModified []string
	SectionsRemoved  []string
}

// EvolutionEvent describes one committed (non-dry-run) evolution.
// It is a curated view of the internal result and audit record for use in
// extension hooks. No internal package imports — safe to use from outside
// the module.
type EvolutionEvent struct {
	ReportID    string
	Title       string
	OldVersion  int
	NewVersion  int
	Actor       string
	Instruction string
	Seq         int
	ContentHash string
	PrevHash    string
	Timestamp   time.Time
	Summary     ChangeSummary
}
