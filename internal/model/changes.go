package model

// ProposedChanges is the transient input describing one evolution's intended
// mutations: six closed operation groups plus three scalar changes. It has no
// lifecycle beyond a single evolution call (or a dry-run preview).
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

// Empty reports whether the payload proposes no mutation at all.
func (pc ProposedChanges) Empty() bool {
	return len(pc.InsightsToAdd) == 0 &&
		len(pc.InsightsToModify) == 0 &&
		len(pc.InsightsToRemove) == 0 &&
		len(pc.SectionsToAdd) == 0 &&
		len(pc.SectionsToModify) == 0 &&
		len(pc.SectionsToRemove) == 0 &&
		pc.TitleChange == nil &&
		len(pc.MetadataUpdates) == 0 &&
		pc.StatusChange == nil
}

// InsightDraft describes a new insight. InsightID may be set by the caller
// (IDs are not reserved after removal, so re-adding a removed ID is legal);
// when empty the applicator generates one.
type InsightDraft struct {
	InsightID  string     `json:"insight_id,omitempty"`
	Summary    string     `json:"summary"`
	Importance int        `json:"importance"`
	Status     string     `json:"status,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// InsightPatch describes a modification to an existing insight.
// Nil pointer fields (and nil slices) are left unchanged; a present empty
// slice replaces the existing value with empty.
type InsightPatch struct {
	InsightID  string     `json:"insight_id"`
	Summary    *string    `json:"summary,omitempty"`
	Importance *int       `json:"importance,omitempty"`
	Status     *string    `json:"status,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// SectionDraft describes a new section. Order is optional; when nil the
// section is appended after the current highest order. InsightIDs may refer
// to insights added in the same batch — insights apply before sections.
type SectionDraft struct {
	SectionID  string   `json:"section_id,omitempty"`
	Title      string   `json:"title"`
	Order      *int     `json:"order,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Content    string   `json:"content,omitempty"`
	InsightIDs []string `json:"insight_ids,omitempty"`
}

// SectionPatch describes a modification to an existing section.
type SectionPatch struct {
	SectionID  string   `json:"section_id"`
	Title      *string  `json:"title,omitempty"`
	Order      *int     `json:"order,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Content    *string  `json:"content,omitempty"`
	InsightIDs []string `json:"insight_ids,omitempty"`
}

// ChangeSummary is the symmetric six-field ID summary returned by every
// evolution. All six fields are always present; empty when nothing changed.
type ChangeSummary struct {
	InsightsAdded    []string `json:"insights_added"`
	InsightsModified []string `json:"insights_modified"`
	InsightsRemoved  []string `json:"insights_removed"`
	SectionsAdded    []string `json:"sections_added"`
	SectionsModified []string `json:"sections_modified"`
	SectionsRemoved  []string `json:"sections_removed"`
}

// NewChangeSummary returns a summary with all six fields non-nil, so JSON
// encoding always emits them as arrays rather than null.
func NewChangeSummary() ChangeSummary {
	return ChangeSummary{
		InsightsAdded:    []string{},
		InsightsModified: []string{},
		InsightsRemoved:  []string{},
		SectionsAdded:    []string{},
		SectionsModified: []string{},
		SectionsRemoved:  []string{},
	}
}

// Total returns the number of IDs across all six fields.
func (cs ChangeSummary) Total() int {
	return len(cs.InsightsAdded) + len(cs.InsightsModified) + len(cs.InsightsRemoved) +
		len(cs.SectionsAdded) + len(cs.SectionsModified) + len(cs.SectionsRemoved)
}

// EvolutionResult is the success response of an evolve call. NewVersion and
// Summary are never omitted.
type EvolutionResult struct {
	ReportID   string        `json:"report_id"`
	Title      string        `json:"title"`
	OldVersion int           `json:"old_version"`
	NewVersion int           `json:"new_version"`
	DryRun     bool          `json:"dry_run"`
	Summary    ChangeSummary `json:"summary"`
}

// Constraints is the open caller-supplied constraint map. Only the citation
// waiver key is semantically defined in the engine core; everything else is
// passed through to the audit record untouched.
type Constraints map[string]any

// ConstraintAllowUncited is the citation-skip key: when set truthy, added and
// modified insights in this call may omit citations. The waiver is per-call —
// a report's display template never relaxes data-quality requirements.
const ConstraintAllowUncited = "allow_uncited"

// AllowUncited reports whether the citation-skip flag is set for this call.
// Accepts bool true or the string "true" (tool surfaces send strings).
func (c Constraints) AllowUncited() bool {
	switch v := c[ConstraintAllowUncited].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
