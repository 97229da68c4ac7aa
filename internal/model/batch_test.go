package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldOperationsPreservesGroups(t *testing.T) {
	ops := []Operation{
		{Type: OpAddInsight, Insight: &InsightDraft{Summary: "first", Importance: 5}},
		{Type: OpRemoveSection, ID: "sec_old"},
		{Type: OpAddSection, Section: &SectionDraft{Title: "Findings"}},
		{Type: OpModifyInsight, InsightPatch: &InsightPatch{InsightID: "ins_1", Importance: intPtr(9)}},
		{Type: OpRemoveInsight, ID: "ins_stale"},
		{Type: OpModifySection, SectionPatch: &SectionPatch{SectionID: "sec_1", Title: strPtr("Renamed")}},
	}

	pc, err := FoldOperations(ops)
	require.NoError(t, err)

	require.Len(t, pc.InsightsToAdd, 1)
	assert.Equal(t, "first", pc.InsightsToAdd[0].Summary)
	require.Len(t, pc.InsightsToModify, 1)
	require.Len(t, pc.InsightsToRemove, 1)
	require.Len(t, pc.SectionsToAdd, 1)
	require.Len(t, pc.SectionsToModify, 1)
	require.Len(t, pc.SectionsToRemove, 1)
	assert.Equal(t, "sec_old", pc.SectionsToRemove[0])
}

func TestFoldOperationsScalarLastWins(t *testing.T) {
	pc, err := FoldOperations([]Operation{
		{Type: OpSetTitle, Title: "First Title"},
		{Type: OpSetStatus, Status: "draft"},
		{Type: OpSetTitle, Title: "Second Title"},
		{Type: OpSetStatus, Status: "active"},
	})
	require.NoError(t, err)
	require.NotNil(t, pc.TitleChange)
	assert.Equal(t, "Second Title", *pc.TitleChange)
	require.NotNil(t, pc.StatusChange)
	assert.Equal(t, "active", *pc.StatusChange)
}

func TestFoldOperationsMergesMetadataInOrder(t *testing.T) {
	pc, err := FoldOperations([]Operation{
		{Type: OpMergeMetadata, Metadata: map[string]any{"owner": "alice", "quarter": "q2"}},
		{Type: OpMergeMetadata, Metadata: map[string]any{"quarter": "q3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", pc.MetadataUpdates["owner"])
	assert.Equal(t, "q3", pc.MetadataUpdates["quarter"])
}

func TestFoldOperationsRejectsMissingPayload(t *testing.T) {
	cases := []Operation{
		{Type: OpAddInsight},
		{Type: OpModifyInsight},
		{Type: OpRemoveInsight},
		{Type: OpAddSection},
		{Type: OpModifySection},
		{Type: OpRemoveSection},
		{Type: OpSetTitle},
		{Type: OpMergeMetadata},
		{Type: OpSetStatus},
		{Type: "rename_report"},
	}
	for _, op := range cases {
		_, err := FoldOperations([]Operation{op})
		assert.Error(t, err, "operation type %q with empty payload should fail", op.Type)
	}
}

func TestFoldOperationsEmptyListFoldsToEmptyChanges(t *testing.T) {
	pc, err := FoldOperations(nil)
	require.NoError(t, err)
	assert.True(t, pc.Empty())
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
