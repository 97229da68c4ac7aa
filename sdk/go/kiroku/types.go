package kiroku

import "time"

// Report mirrors the server's report document for API consumers.
type Report struct {
	ReportID  string         `json:"report_id"`
	Title     string         `json:"title"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Sections  []Section      `json:"sections"`
	Insights  []Insight      `json:"insights"`
}

// Section is a titled grouping referencing zero or more insights.
type Section struct {
	SectionID  string   `json:"section_id"`
	Title      string   `json:"title"`
	Order      int      `json:"order"`
	Notes      string   `json:"notes,omitempty"`
	Content    string   `json:"content,omitempty"`
	InsightIDs []string `json:"insight_ids,omitempty"`
}

// Insight is a single cited claim with an importance score in [1,10].
type Insight struct {
	InsightID  string     `json:"insight_id"`
	Summary    string     `json:"summary"`
	Importance int        `json:"importance"`
	Status     string     `json:"status,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// Citation references a reproducible prior computation backing a claim.
type Citation struct {
	ExecutionID string `json:"execution_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Database    string `json:"database,omitempty"`
	Schema      string `json:"schema,omitempty"`
	Table       string `json:"table,omitempty"`
}

// ReportSummary is the lightweight registry row returned by list and
// resolve endpoints.
type ReportSummary struct {
	ReportID  string    `json:"report_id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditRecord is one immutable entry in a report's hash-chained audit trail.
type AuditRecord struct {
	AuditID       string         `json:"audit_id"`
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

// ChangeSummary lists the IDs touched by one evolution.
type ChangeSummary struct {
	InsightsAdded    []string `json:"insights_added"`
	InsightsModified []string `json:"insights_modified"`
	InsightsRemoved  []string `json:"insights_removed"`
	SectionsAdded    []string `json:"sections_added"`
	SectionsModified []string `json:"sections_modified"`
	SectionsRemoved  []string `json:"sections_removed"`
}

// --- Request types ---

// CreateReportRequest is the input for Client.CreateReport.
type CreateReportRequest struct {
	Title    string         `json:"title"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProposedChanges describes one evolution's intended mutations.
type ProposedChanges struct {
	InsightsToAdd    []InsightDraft `json:"insights_to_add,omitempty"`
	InsightsToModify []InsightPatch `json:"insights_to_modify,omitempty"`
	InsightsToRemove []string       `json:"insights_to_remove,omitempty"`
	SectionsToAdd    []SectionDraft `json:"sections_to_add,omitempty"`
	SectionsToModify []SectionPatch `json:"sections_to_modify,omitempty"`
	SectionsToRemove []string       `json:"sections_to_remove,omitempty"`

	TitleChange     *string        `json:"title_change,omitempty"`
	MetadataUpdates map[string]any `json:"metadata_updates,omitempty"`
	StatusChange    *string        `json:"status_change,omitempty"`
}

// InsightDraft describes a new insight. InsightID is optional; the server
// generates one when empty.
type InsightDraft struct {
	InsightID  string     `json:"insight_id,omitempty"`
	Summary    string     `json:"summary"`
	Importance int        `json:"importance"`
	Status     string     `json:"status,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// InsightPatch describes a modification to an existing insight. Nil fields
// are left unchanged.
type InsightPatch struct {
	InsightID  string     `json:"insight_id"`
	Summary    *string    `json:"summary,omitempty"`
	Importance *int       `json:"importance,omitempty"`
	Status     *string    `json:"status,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// SectionDraft describes a new section.
type SectionDraft struct {
	SectionID  string   `json:"section_id,omitempty"`
	Title      string   `json:"title"`
	Order      *int     `json:"order,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Content    string   `json:"content,omitempty"`
	InsightIDs []string `json:"insight_ids,omitempty"`
}

// SectionPatch describes a modification to an existing section. Nil fields
// are left unchanged.
type SectionPatch struct {
	SectionID  string   `json:"section_id"`
	Title      *string  `json:"title,omitempty"`
	Order      *int     `json:"order,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Content    *string  `json:"content,omitempty"`
	InsightIDs []string `json:"insight_ids,omitempty"`
}

// EvolveRequest is the input for Client.Evolve.
type EvolveRequest struct {
	Instruction string          `json:"instruction"`
	Changes     ProposedChanges `json:"changes"`
	Constraints map[string]any  `json:"constraints,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
}

// Operation is one step in a batch evolution. Type selects which payload
// field must be set: add_insight, modify_insight, remove_insight,
// add_section, modify_section, remove_section, set_title, merge_metadata,
// or set_status.
type Operation struct {
	Type string `json:"type"`

	Insight      *InsightDraft  `json:"insight,omitempty"`
	InsightPatch *InsightPatch  `json:"insight_patch,omitempty"`
	Section      *SectionDraft  `json:"section,omitempty"`
	SectionPatch *SectionPatch  `json:"section_patch,omitempty"`
	ID           string         `json:"id,omitempty"`
	Title        string         `json:"title,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status,omitempty"`
}

// EvolveBatchRequest is the input for Client.EvolveBatch.
type EvolveBatchRequest struct {
	Instruction string         `json:"instruction"`
	Operations  []Operation    `json:"operations"`
	Constraints map[string]any `json:"constraints,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

// --- Response types ---

// EvolutionResult is the output of Client.Evolve and Client.EvolveBatch.
type EvolutionResult struct {
	ReportID   string        `json:"report_id"`
	Title      string        `json:"title"`
	OldVersion int           `json:"old_version"`
	NewVersion int           `json:"new_version"`
	DryRun     bool          `json:"dry_run"`
	Summary    ChangeSummary `json:"summary"`
}

// VerifyResult is the output of Client.VerifyAudit.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
