package model

import "fmt"

// OpType classifies a batch-mode operation.
type OpType string

const (
	OpAddInsight    OpType = "add_insight"
	OpModifyInsight OpType = "modify_insight"
	OpRemoveInsight OpType = "remove_insight"
	OpAddSection    OpType = "add_section"
	OpModifySection OpType = "modify_section"
	OpRemoveSection OpType = "remove_section"
	OpSetTitle      OpType = "set_title"
	OpMergeMetadata OpType = "merge_metadata"
	OpSetStatus     OpType = "set_status"
)

// Operation is one step in a batch evolution request. Exactly one payload
// field matching Type must be set. Batch mode is a convenience encoding:
// operations are folded into a single ProposedChanges and pass through the
// identical validate/apply pipeline.
type Operation struct {
	Type OpType `json:"type"`

	Insight      *InsightDraft  `json:"insight,omitempty"`       // add_insight
	InsightPatch *InsightPatch  `json:"insight_patch,omitempty"` // modify_insight
	Section      *SectionDraft  `json:"section,omitempty"`       // add_section
	SectionPatch *SectionPatch  `json:"section_patch,omitempty"` // modify_section
	ID           string         `json:"id,omitempty"`            // remove_insight / remove_section
	Title        string         `json:"title,omitempty"`         // set_title
	Metadata     map[string]any `json:"metadata,omitempty"`      // merge_metadata
	Status       string         `json:"status,omitempty"`        // set_status
}

// FoldOperations translates an ordered operation list into the equivalent
// ProposedChanges payload. Later scalar operations (set_title, set_status)
// win over earlier ones; merge_metadata operations merge in order with new
// keys winning, matching the applicator's shallow-merge rule.
func FoldOperations(ops []Operation) (ProposedChanges, error) {
	var pc ProposedChanges
	for i, op := range ops {
		switch op.Type {
		case OpAddInsight:
			if op.Insight == nil {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: add_insight requires insight", i)
			}
			pc.InsightsToAdd = append(pc.InsightsToAdd, *op.Insight)
		case OpModifyInsight:
			if op.InsightPatch == nil {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: modify_insight requires insight_patch", i)
			}
			pc.InsightsToModify = append(pc.InsightsToModify, *op.InsightPatch)
		case OpRemoveInsight:
			if op.ID == "" {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: remove_insight requires id", i)
			}
			pc.InsightsToRemove = append(pc.InsightsToRemove, op.ID)
		case OpAddSection:
			if op.Section == nil {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: add_section requires section", i)
			}
			pc.SectionsToAdd = append(pc.SectionsToAdd, *op.Section)
		case OpModifySection:
			if op.SectionPatch == nil {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: modify_section requires section_patch", i)
			}
			pc.SectionsToModify = append(pc.SectionsToModify, *op.SectionPatch)
		case OpRemoveSection:
			if op.ID == "" {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: remove_section requires id", i)
			}
			pc.SectionsToRemove = append(pc.SectionsToRemove, op.ID)
		case OpSetTitle:
			if op.Title == "" {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: set_title requires title", i)
			}
			title := op.Title
			pc.TitleChange = &title
		case OpMergeMetadata:
			if len(op.Metadata) == 0 {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: merge_metadata requires metadata", i)
			}
			if pc.MetadataUpdates == nil {
				pc.MetadataUpdates = map[string]any{}
			}
			for k, v := range op.Metadata {
				pc.MetadataUpdates[k] = v
			}
		case OpSetStatus:
			if op.Status == "" {
				return ProposedChanges{}, fmt.Errorf("operations[%d]: set_status requires status", i)
			}
			status := op.Status
			pc.StatusChange = &status
		default:
			return ProposedChanges{}, fmt.Errorf("operations[%d]: unknown operation type %q", i, op.Type)
		}
	}
	return pc, nil
}
