package reports

import (
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ValidateSchema checks the structural shape of a proposed-changes payload
// independent of any report state: required fields per operation type,
// numeric ranges, minimum string lengths, and identifier formats.
//
// Every error is collected rather than failing fast, so a single round trip
// surfaces all problems.
func ValidateSchema(pc model.ProposedChanges) []FieldError {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if pc.Empty() {
		add("changes", "proposed changes contain no operations")
		return errs
	}

	for i, d := range pc.InsightsToAdd {
		field := fmt.Sprintf("insights_to_add[%d]", i)
		if d.InsightID != "" {
			if err := model.ValidateEntityID(d.InsightID); err != nil {
				add(field+".insight_id", "%v", err)
			}
		}
		if err := model.ValidateSummary(d.Summary); err != nil {
			add(field+".summary", "%v", err)
		}
		if err := model.ValidateImportance(d.Importance); err != nil {
			add(field+".importance", "%v", err)
		}
		for j, tag := range d.Tags {
			if err := model.ValidateTag(tag); err != nil {
				add(fmt.Sprintf("%s.tags[%d]", field, j), "%v", err)
			}
		}
	}

	for i, p := range pc.InsightsToModify {
		field := fmt.Sprintf("insights_to_modify[%d]", i)
		if err := model.ValidateEntityID(p.InsightID); err != nil {
			add(field+".insight_id", "%v", err)
		}
		if p.Summary == nil && p.Importance == nil && p.Status == nil &&
			p.Citations == nil && p.Tags == nil {
			add(field, "patch modifies no fields")
		}
		if p.Summary != nil {
			if err := model.ValidateSummary(*p.Summary); err != nil {
				add(field+".summary", "%v", err)
			}
		}
		if p.Importance != nil {
			if err := model.ValidateImportance(*p.Importance); err != nil {
				add(field+".importance", "%v", err)
			}
		}
		for j, tag := range p.Tags {
			if err := model.ValidateTag(tag); err != nil {
				add(fmt.Sprintf("%s.tags[%d]", field, j), "%v", err)
			}
		}
	}

	for i, id := range pc.InsightsToRemove {
		if err := model.ValidateEntityID(id); err != nil {
			add(fmt.Sprintf("insights_to_remove[%d]", i), "%v", err)
		}
	}

	for i, d := range pc.SectionsToAdd {
		field := fmt.Sprintf("sections_to_add[%d]", i)
		if d.SectionID != "" {
			if err := model.ValidateEntityID(d.SectionID); err != nil {
				add(field+".section_id", "%v", err)
			}
		}
		if err := model.ValidateTitle(d.Title); err != nil {
			add(field+".title", "%v", err)
		}
		if len(d.Notes) > model.MaxNotesLen {
			add(field+".notes", "notes exceed maximum length of %d bytes", model.MaxNotesLen)
		}
		if len(d.Content) > model.MaxContentLen {
			add(field+".content", "content exceeds maximum length of %d bytes", model.MaxContentLen)
		}
		for j, id := range d.InsightIDs {
			if err := model.ValidateEntityID(id); err != nil {
				add(fmt.Sprintf("%s.insight_ids[%d]", field, j), "%v", err)
			}
		}
	}

	for i, p := range pc.SectionsToModify {
		field := fmt.Sprintf("sections_to_modify[%d]", i)
		if err := model.ValidateEntityID(p.SectionID); err != nil {
			add(field+".section_id", "%v", err)
		}
		if p.Title == nil && p.Order == nil && p.Notes == nil &&
			p.Content == nil && p.InsightIDs == nil {
			add(field, "patch modifies no fields")
		}
		if p.Title != nil {
			if err := model.ValidateTitle(*p.Title); err != nil {
				add(field+".title", "%v", err)
			}
		}
		if p.Notes != nil && len(*p.Notes) > model.MaxNotesLen {
			add(field+".notes", "notes exceed maximum length of %d bytes", model.MaxNotesLen)
		}
		if p.Content != nil && len(*p.Content) > model.MaxContentLen {
			add(field+".content", "content exceeds maximum length of %d bytes", model.MaxContentLen)
		}
		for j, id := range p.InsightIDs {
			if err := model.ValidateEntityID(id); err != nil {
				add(fmt.Sprintf("%s.insight_ids[%d]", field, j), "%v", err)
			}
		}
	}

	for i, id := range pc.SectionsToRemove {
		if err := model.ValidateEntityID(id); err != nil {
			add(fmt.Sprintf("sections_to_remove[%d]", i), "%v", err)
		}
	}

	if pc.TitleChange != nil {
		if err := model.ValidateTitle(*pc.TitleChange); err != nil {
			add("title_change", "%v", err)
		}
	}

	for key := range pc.MetadataUpdates {
		if key == "" {
			add("metadata_updates", "metadata keys must not be empty")
		}
	}

	if pc.StatusChange != nil {
		if *pc.StatusChange == "" {
			add("status_change", "status must not be empty")
		} else if len(*pc.StatusChange) > 64 {
			add("status_change", "status must be at most 64 characters")
		}
	}

	return errs
}
