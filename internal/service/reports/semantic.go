package reports

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ValidateSemantic checks a structurally valid payload against the report's
// current state, in order: (1) every modify/remove-referenced ID exists,
// (2) no add reuses a surviving ID, (3) no two adds in one batch collide,
// (4) section-title uniqueness holds post-change, (5) citation enforcement.
//
// Reuse of an ID or title that the same batch removes is legal: checks
// evaluate against post-removal state, consistent with the applicator's
// mutation order (removals apply first).
//
// All errors are collected before any mutation. ID-not-found errors carry
// the currently valid ID set.
func ValidateSemantic(r model.Report, pc model.ProposedChanges, constraints model.Constraints) []FieldError {
	var errs []FieldError

	insightIDs := r.InsightIDSet()
	sectionIDs := r.SectionIDSet()
	validInsights := sortedKeys(insightIDs)
	validSections := sortedKeys(sectionIDs)

	// (1) Referenced IDs must exist.
	for i, p := range pc.InsightsToModify {
		if !insightIDs[p.InsightID] {
			errs = append(errs, FieldError{
				Field:    fmt.Sprintf("insights_to_modify[%d].insight_id", i),
				Message:  fmt.Sprintf("insight %q does not exist", p.InsightID),
				ValidIDs: validInsights,
			})
		}
	}
	for i, id := range pc.InsightsToRemove {
		if !insightIDs[id] {
			errs = append(errs, FieldError{
				Field:    fmt.Sprintf("insights_to_remove[%d]", i),
				Message:  fmt.Sprintf("insight %q does not exist", id),
				ValidIDs: validInsights,
			})
		}
	}
	for i, p := range pc.SectionsToModify {
		if !sectionIDs[p.SectionID] {
			errs = append(errs, FieldError{
				Field:    fmt.Sprintf("sections_to_modify[%d].section_id", i),
				Message:  fmt.Sprintf("section %q does not exist", p.SectionID),
				ValidIDs: validSections,
			})
		}
	}
	for i, id := range pc.SectionsToRemove {
		if !sectionIDs[id] {
			errs = append(errs, FieldError{
				Field:    fmt.Sprintf("sections_to_remove[%d]", i),
				Message:  fmt.Sprintf("section %q does not exist", id),
				ValidIDs: validSections,
			})
		}
	}

	// Post-removal ID sets: adds are checked against what survives removal.
	survivingInsights := cloneSet(insightIDs)
	for _, id := range pc.InsightsToRemove {
		delete(survivingInsights, id)
	}
	survivingSections := cloneSet(sectionIDs)
	for _, id := range pc.SectionsToRemove {
		delete(survivingSections, id)
	}

	// (2) No add may reuse a surviving ID, and (3) no two adds may collide.
	batchInsightIDs := map[string]bool{}
	for i, d := range pc.InsightsToAdd {
		if d.InsightID == "" {
			continue
		}
		field := fmt.Sprintf("insights_to_add[%d].insight_id", i)
		if survivingInsights[d.InsightID] {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("insight %q already exists", d.InsightID),
			})
		}
		if batchInsightIDs[d.InsightID] {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("insight %q is added twice in this batch", d.InsightID),
			})
		}
		batchInsightIDs[d.InsightID] = true
	}
	batchSectionIDs := map[string]bool{}
	for i, d := range pc.SectionsToAdd {
		if d.SectionID == "" {
			continue
		}
		field := fmt.Sprintf("sections_to_add[%d].section_id", i)
		if survivingSections[d.SectionID] {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("section %q already exists", d.SectionID),
			})
		}
		if batchSectionIDs[d.SectionID] {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("section %q is added twice in this batch", d.SectionID),
			})
		}
		batchSectionIDs[d.SectionID] = true
	}

	// (4) Section titles must be unique post-change (case-insensitive).
	errs = append(errs, checkSectionTitles(r, pc)...)

	// Referential integrity: section insight_ids must reference an insight
	// that exists after this batch applies (additions included — a new
	// section may reference a same-batch new insight).
	postInsights := cloneSet(survivingInsights)
	for _, d := range pc.InsightsToAdd {
		if d.InsightID != "" {
			postInsights[d.InsightID] = true
		}
	}
	validPost := sortedKeys(postInsights)
	for i, d := range pc.SectionsToAdd {
		for j, id := range d.InsightIDs {
			if !postInsights[id] {
				errs = append(errs, FieldError{
					Field:    fmt.Sprintf("sections_to_add[%d].insight_ids[%d]", i, j),
					Message:  fmt.Sprintf("insight %q does not exist", id),
					ValidIDs: validPost,
				})
			}
		}
	}
	for i, p := range pc.SectionsToModify {
		for j, id := range p.InsightIDs {
			if !postInsights[id] {
				errs = append(errs, FieldError{
					Field:    fmt.Sprintf("sections_to_modify[%d].insight_ids[%d]", i, j),
					Message:  fmt.Sprintf("insight %q does not exist", id),
					ValidIDs: validPost,
				})
			}
		}
	}

	// (5) Citation enforcement. Uniform across all reports — a report's
	// display template governs rendering only, never data quality.
	if !constraints.AllowUncited() {
		for i, d := range pc.InsightsToAdd {
			if !(model.Insight{Citations: d.Citations}).Cited() {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("insights_to_add[%d].citations", i),
					Message: "insight requires at least one citation with a populated execution_id",
				})
			}
		}
		for i, p := range pc.InsightsToModify {
			idx := r.FindInsight(p.InsightID)
			if idx < 0 {
				continue // already reported as not-found above
			}
			after := r.Insights[idx]
			if p.Citations != nil {
				after.Citations = p.Citations
			}
			if !after.Cited() {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("insights_to_modify[%d].citations", i),
					Message: "modified insight must retain at least one citation with a populated execution_id",
				})
			}
		}
	}

	return errs
}

// checkSectionTitles simulates the batch's effect on section titles and
// reports duplicates among the sections that would exist afterwards.
func checkSectionTitles(r model.Report, pc model.ProposedChanges) []FieldError {
	removed := map[string]bool{}
	for _, id := range pc.SectionsToRemove {
		removed[id] = true
	}
	patchTitles := map[string]string{}
	for _, p := range pc.SectionsToModify {
		if p.Title != nil {
			patchTitles[p.SectionID] = *p.Title
		}
	}

	// Final title per surviving section, then the batch's additions.
	type titled struct {
		field string
		title string
	}
	var final []titled
	for _, s := range r.Sections {
		if removed[s.SectionID] {
			continue
		}
		title := s.Title
		if t, ok := patchTitles[s.SectionID]; ok {
			title = t
		}
		final = append(final, titled{field: "section " + s.SectionID, title: title})
	}
	for i, d := range pc.SectionsToAdd {
		final = append(final, titled{
			field: fmt.Sprintf("sections_to_add[%d].title", i),
			title: d.Title,
		})
	}

	var errs []FieldError
	seen := map[string]string{} // lowercased title -> first holder
	for _, t := range final {
		key := strings.ToLower(t.title)
		if first, dup := seen[key]; dup {
			errs = append(errs, FieldError{
				Field:   t.field,
				Message: fmt.Sprintf("section title %q duplicates %s", t.title, first),
			})
			continue
		}
		seen[key] = t.field
	}
	return errs
}

func cloneSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
