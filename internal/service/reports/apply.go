package reports

import (
	"reflect"
	"sort"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Apply produces the next report state from a fully validated payload and
// returns it with the symmetric six-field ID summary. It is pure: the input
// report is never mutated, so a failure anywhere in the surrounding call
// leaves no observable partial state.
//
// Mutation order: removals (sections, then insights) → modifications
// (sections, then insights) → additions (insights, then sections, so a new
// section may reference a same-batch new insight) → title_change →
// metadata_updates (shallow merge, new keys win) → status_change folded
// into metadata → version increment and updated_at refresh.
//
// A modification whose patch leaves the entity byte-identical is not listed
// in the summary: the union of the six fields equals exactly the IDs that
// differ between old and new state.
func Apply(r model.Report, pc model.ProposedChanges, now time.Time) (model.Report, model.ChangeSummary) {
	out := r.Clone()
	summary := model.NewChangeSummary()

	// Removals: sections first, then insights. Removing a section never
	// removes its linked insights.
	if len(pc.SectionsToRemove) > 0 {
		removed := map[string]bool{}
		for _, id := range pc.SectionsToRemove {
			removed[id] = true
			summary.SectionsRemoved = append(summary.SectionsRemoved, id)
		}
		kept := out.Sections[:0]
		for _, s := range out.Sections {
			if !removed[s.SectionID] {
				kept = append(kept, s)
			}
		}
		out.Sections = kept
	}
	prunedSections := map[string]bool{}
	if len(pc.InsightsToRemove) > 0 {
		removed := map[string]bool{}
		for _, id := range pc.InsightsToRemove {
			removed[id] = true
			summary.InsightsRemoved = append(summary.InsightsRemoved, id)
		}
		kept := out.Insights[:0]
		for _, in := range out.Insights {
			if !removed[in.InsightID] {
				kept = append(kept, in)
			}
		}
		out.Insights = kept
		// Dangling references in surviving sections are pruned so the
		// report's referential-integrity invariant holds after removal.
		// Pruned sections count as modified.
		for i := range out.Sections {
			pruned := pruneIDs(out.Sections[i].InsightIDs, removed)
			if len(pruned) != len(out.Sections[i].InsightIDs) {
				prunedSections[out.Sections[i].SectionID] = true
			}
			out.Sections[i].InsightIDs = pruned
		}
	}

	// Modifications: sections first, then insights.
	for _, p := range pc.SectionsToModify {
		idx := out.FindSection(p.SectionID)
		if idx < 0 {
			continue
		}
		before := out.Sections[idx]
		after := before
		if p.Title != nil {
			after.Title = *p.Title
		}
		if p.Order != nil {
			after.Order = *p.Order
		}
		if p.Notes != nil {
			after.Notes = *p.Notes
		}
		if p.Content != nil {
			after.Content = *p.Content
		}
		if p.InsightIDs != nil {
			after.InsightIDs = append([]string(nil), p.InsightIDs...)
		}
		if !reflect.DeepEqual(before, after) {
			out.Sections[idx] = after
			summary.SectionsModified = append(summary.SectionsModified, p.SectionID)
		}
	}
	for _, p := range pc.InsightsToModify {
		idx := out.FindInsight(p.InsightID)
		if idx < 0 {
			continue
		}
		before := out.Insights[idx]
		after := before
		if p.Summary != nil {
			after.Summary = *p.Summary
		}
		if p.Importance != nil {
			after.Importance = *p.Importance
		}
		if p.Status != nil {
			after.Status = *p.Status
		}
		if p.Citations != nil {
			after.Citations = append([]model.Citation(nil), p.Citations...)
		}
		if p.Tags != nil {
			after.Tags = append([]string(nil), p.Tags...)
		}
		if !reflect.DeepEqual(before, after) {
			out.Insights[idx] = after
			summary.InsightsModified = append(summary.InsightsModified, p.InsightID)
		}
	}

	// Additions: insights before sections.
	for _, d := range pc.InsightsToAdd {
		id := d.InsightID
		if id == "" {
			id = model.NewInsightID()
		}
		out.Insights = append(out.Insights, model.Insight{
			InsightID:  id,
			Summary:    d.Summary,
			Importance: d.Importance,
			Status:     d.Status,
			Citations:  append([]model.Citation(nil), d.Citations...),
			Tags:       append([]string(nil), d.Tags...),
		})
		summary.InsightsAdded = append(summary.InsightsAdded, id)
	}
	for _, d := range pc.SectionsToAdd {
		id := d.SectionID
		if id == "" {
			id = model.NewSectionID()
		}
		order := nextOrder(out.Sections)
		if d.Order != nil {
			order = *d.Order
		}
		out.Sections = append(out.Sections, model.Section{
			SectionID:  id,
			Title:      d.Title,
			Order:      order,
			Notes:      d.Notes,
			Content:    d.Content,
			InsightIDs: append([]string(nil), d.InsightIDs...),
		})
		summary.SectionsAdded = append(summary.SectionsAdded, id)
	}

	// Scalar changes.
	if pc.TitleChange != nil {
		out.Title = *pc.TitleChange
	}
	for k, v := range pc.MetadataUpdates {
		out.Metadata[k] = v
	}
	if pc.StatusChange != nil {
		out.Metadata["status"] = *pc.StatusChange
	}

	sort.SliceStable(out.Sections, func(i, j int) bool {
		return out.Sections[i].Order < out.Sections[j].Order
	})

	if len(prunedSections) > 0 {
		listed := map[string]bool{}
		for _, id := range summary.SectionsModified {
			listed[id] = true
		}
		for _, id := range summary.SectionsRemoved {
			listed[id] = true
		}
		for _, s := range out.Sections {
			if prunedSections[s.SectionID] && !listed[s.SectionID] {
				summary.SectionsModified = append(summary.SectionsModified, s.SectionID)
			}
		}
	}

	out.Version++
	out.UpdatedAt = now.UTC()
	return out, summary
}

func pruneIDs(ids []string, removed map[string]bool) []string {
	kept := ids[:0]
	for _, id := range ids {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

func nextOrder(sections []model.Section) int {
	max := 0
	for _, s := range sections {
		if s.Order > max {
			max = s.Order
		}
	}
	return max + 1
}
