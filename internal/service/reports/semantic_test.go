package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

// cited returns a citation slice suitable for any add or modify payload.
func cited() []model.Citation {
	return []model.Citation{{ExecutionID: "exec_test"}}
}

func testReport() model.Report {
	r := model.NewReport("Churn Analysis", []string{"churn"}, nil)
	r.Insights = []model.Insight{
		{InsightID: "ins_a", Summary: "finding a", Importance: 5, Citations: cited()},
		{InsightID: "ins_b", Summary: "finding b", Importance: 6, Citations: cited()},
	}
	r.Sections = []model.Section{
		{SectionID: "sec_1", Title: "Key Findings", Order: 1, InsightIDs: []string{"ins_a"}},
		{SectionID: "sec_2", Title: "Methodology", Order: 2},
	}
	return r
}

func TestSemanticUnknownIDsCarryValidSet(t *testing.T) {
	r := testReport()
	pc := model.ProposedChanges{
		InsightsToModify: []model.InsightPatch{{InsightID: "ins_missing", Summary: strPtr("new text")}},
		SectionsToRemove: []string{"sec_missing"},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 2)

	assert.Equal(t, "insights_to_modify[0].insight_id", errs[0].Field)
	assert.Equal(t, []string{"ins_a", "ins_b"}, errs[0].ValidIDs)
	assert.Equal(t, "sections_to_remove[0]", errs[1].Field)
	assert.Equal(t, []string{"sec_1", "sec_2"}, errs[1].ValidIDs)
}

func TestSemanticAddRejectsExistingID(t *testing.T) {
	r := testReport()
	pc := model.ProposedChanges{
		InsightsToAdd: []model.InsightDraft{{InsightID: "ins_a", Summary: "duplicate", Importance: 5, Citations: cited()}},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "already exists")
}

func TestSemanticAddMayReuseIDRemovedInSameBatch(t *testing.T) {
	r := testReport()
	pc := model.ProposedChanges{
		InsightsToRemove: []string{"ins_a"},
		InsightsToAdd:    []model.InsightDraft{{InsightID: "ins_a", Summary: "replacement", Importance: 5, Citations: cited()}},
	}
	assert.Empty(t, ValidateSemantic(r, pc, nil))
}

func TestSemanticDuplicateAddsInOneBatch(t *testing.T) {
	r := testReport()
	pc := model.ProposedChanges{
		InsightsToAdd: []model.InsightDraft{
			{InsightID: "ins_new", Summary: "first copy", Importance: 5, Citations: cited()},
			{InsightID: "ins_new", Summary: "second copy", Importance: 5, Citations: cited()},
		},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "added twice")
}

func TestSemanticSectionTitleUniqueness(t *testing.T) {
	r := testReport()

	// Case-insensitive collision with a surviving section.
	pc := model.ProposedChanges{
		SectionsToAdd: []model.SectionDraft{{Title: "key findings"}},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "duplicates")

	// Renaming one section onto another's title collides too.
	pc = model.ProposedChanges{
		SectionsToModify: []model.SectionPatch{{SectionID: "sec_2", Title: strPtr("Key Findings")}},
	}
	errs = ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)

	// Removing the holder in the same batch frees the title.
	pc = model.ProposedChanges{
		SectionsToRemove: []string{"sec_1"},
		SectionsToAdd:    []model.SectionDraft{{Title: "Key Findings"}},
	}
	assert.Empty(t, ValidateSemantic(r, pc, nil))
}

func TestSemanticSectionReferencesResolveAgainstPostBatchState(t *testing.T) {
	r := testReport()

	// A new section may reference an insight added in the same batch.
	pc := model.ProposedChanges{
		InsightsToAdd: []model.InsightDraft{{InsightID: "ins_new", Summary: "new finding", Importance: 5, Citations: cited()}},
		SectionsToAdd: []model.SectionDraft{{Title: "New Section", InsightIDs: []string{"ins_new", "ins_b"}}},
	}
	assert.Empty(t, ValidateSemantic(r, pc, nil))

	// It may not reference an insight removed in the same batch.
	pc = model.ProposedChanges{
		InsightsToRemove: []string{"ins_b"},
		SectionsToModify: []model.SectionPatch{{SectionID: "sec_2", InsightIDs: []string{"ins_b"}}},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "sections_to_modify[0].insight_ids[0]", errs[0].Field)
}

func TestSemanticCitationEnforcement(t *testing.T) {
	r := testReport()

	// Uncited add fails.
	pc := model.ProposedChanges{
		InsightsToAdd: []model.InsightDraft{{Summary: "uncited claim", Importance: 5}},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "citation")

	// A citation without an execution ID does not count.
	pc.InsightsToAdd[0].Citations = []model.Citation{{Database: "warehouse"}}
	errs = ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)

	// The per-call waiver admits it.
	assert.Empty(t, ValidateSemantic(r, pc, model.Constraints{model.ConstraintAllowUncited: true}))
}

func TestSemanticModifyMayNotStripLastCitation(t *testing.T) {
	r := testReport()
	pc := model.ProposedChanges{
		InsightsToModify: []model.InsightPatch{{InsightID: "ins_a", Citations: []model.Citation{}}},
	}
	errs := ValidateSemantic(r, pc, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "insights_to_modify[0].citations", errs[0].Field)

	// Swapping for a different populated citation is fine.
	pc.InsightsToModify[0].Citations = []model.Citation{{ExecutionID: "exec_new"}}
	assert.Empty(t, ValidateSemantic(r, pc, nil))

	// A patch that leaves citations untouched does not trip enforcement.
	pc = model.ProposedChanges{
		InsightsToModify: []model.InsightPatch{{InsightID: "ins_a", Importance: intPtr(8)}},
	}
	assert.Empty(t, ValidateSemantic(r, pc, nil))
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
