package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

var fixedNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func fixtureReport(id, title string) model.Report {
	r := model.NewReport(title, []string{"churn", "quarterly"}, map[string]any{"owner": "analyst"})
	r.ReportID = id
	r.CreatedAt = fixedNow
	r.UpdatedAt = fixedNow
	r.Insights = []model.Insight{{
		InsightID:  "ins_1",
		Summary:    "enterprise churn rose",
		Importance: 8,
		Citations:  []model.Citation{{ExecutionID: "exec_1"}},
		Tags:       []string{"churn"},
	}}
	r.Sections = []model.Section{{
		SectionID:  "sec_1",
		Title:      "Key Findings",
		Order:      1,
		Notes:      "focus on enterprise",
		InsightIDs: []string{"ins_1"},
	}}
	return r
}

func fixtureAudit(reportID string, seq int, prevHash string) model.AuditRecord {
	summary := model.NewChangeSummary()
	summary.InsightsAdded = []string{"ins_1"}
	return model.AuditRecord{
		AuditID:       uuid.New(),
		ReportID:      reportID,
		Seq:           seq,
		Timestamp:     fixedNow.Add(time.Duration(seq) * time.Minute),
		Actor:         "analyst",
		Instruction:   "record finding",
		BeforeVersion: seq,
		AfterVersion:  seq + 1,
		Summary:       summary,
		Constraints:   model.Constraints{"allow_uncited": true},
		ContentHash:   "hash_" + reportID + "_" + string(rune('0'+seq)),
		PrevHash:      prevHash,
	}
}

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateAndLoad", func(t *testing.T) {
		s := open(t)
		r := fixtureReport("rep_1", "Churn Analysis")
		require.NoError(t, s.CreateReport(ctx, r))

		got, err := s.LoadReport(ctx, "rep_1")
		require.NoError(t, err)
		assert.Equal(t, r.ReportID, got.ReportID)
		assert.Equal(t, r.Title, got.Title)
		assert.Equal(t, r.Tags, got.Tags)
		assert.Equal(t, 1, got.Version)
		require.Len(t, got.Insights, 1)
		assert.Equal(t, "ins_1", got.Insights[0].InsightID)
		assert.Equal(t, 8, got.Insights[0].Importance)
		require.Len(t, got.Sections, 1)
		assert.Equal(t, []string{"ins_1"}, got.Sections[0].InsightIDs)
		assert.Equal(t, "analyst", got.Metadata["owner"])
	})

	t.Run("CreateDuplicateID", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateReport(ctx, fixtureReport("rep_1", "First")))
		err := s.CreateReport(ctx, fixtureReport("rep_1", "Second"))
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.LoadReport(ctx, "rep_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SaveOptimisticVersion", func(t *testing.T) {
		s := open(t)
		r := fixtureReport("rep_1", "Churn Analysis")
		require.NoError(t, s.CreateReport(ctx, r))

		next := r.Clone()
		next.Version = 2
		next.Title = "Churn Analysis v2"
		require.NoError(t, s.SaveReport(ctx, next, 1))

		got, err := s.LoadReport(ctx, "rep_1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, "Churn Analysis v2", got.Title)

		// A stale expected version must not win.
		stale := r.Clone()
		stale.Version = 2
		stale.Title = "lost update"
		assert.ErrorIs(t, s.SaveReport(ctx, stale, 1), ErrVersionConflict)

		got, err = s.LoadReport(ctx, "rep_1")
		require.NoError(t, err)
		assert.Equal(t, "Churn Analysis v2", got.Title)
	})

	t.Run("SaveMissing", func(t *testing.T) {
		s := open(t)
		r := fixtureReport("rep_ghost", "Ghost")
		assert.ErrorIs(t, s.SaveReport(ctx, r, 1), ErrNotFound)
	})

	t.Run("AuditHeadAndRoundtrip", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateReport(ctx, fixtureReport("rep_1", "Churn Analysis")))

		_, err := s.HeadAudit(ctx, "rep_1")
		assert.ErrorIs(t, err, ErrNotFound)

		first := fixtureAudit("rep_1", 1, "")
		require.NoError(t, s.AppendAudit(ctx, first))
		second := fixtureAudit("rep_1", 2, first.ContentHash)
		require.NoError(t, s.AppendAudit(ctx, second))

		head, err := s.HeadAudit(ctx, "rep_1")
		require.NoError(t, err)
		assert.Equal(t, second.AuditID, head.AuditID)
		assert.Equal(t, 2, head.Seq)
		assert.Equal(t, first.ContentHash, head.PrevHash)
		assert.Equal(t, "analyst", head.Actor)
		assert.Equal(t, "record finding", head.Instruction)
		assert.Equal(t, []string{"ins_1"}, head.Summary.InsightsAdded)
		assert.Equal(t, true, head.Constraints["allow_uncited"])
		assert.True(t, second.Timestamp.Equal(head.Timestamp))
	})

	t.Run("ListAuditPagination", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateReport(ctx, fixtureReport("rep_1", "Churn Analysis")))
		prev := ""
		for seq := 1; seq <= 5; seq++ {
			rec := fixtureAudit("rep_1", seq, prev)
			require.NoError(t, s.AppendAudit(ctx, rec))
			prev = rec.ContentHash
		}

		all, err := s.ListAudit(ctx, "rep_1", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, rec := range all {
			assert.Equal(t, i+1, rec.Seq)
		}

		page, err := s.ListAudit(ctx, "rep_1", 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, 3, page[0].Seq)
		assert.Equal(t, 4, page[1].Seq)

		past, err := s.ListAudit(ctx, "rep_1", 10, 10)
		require.NoError(t, err)
		assert.Empty(t, past)

		none, err := s.ListAudit(ctx, "rep_other", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListSummariesCreationOrder", func(t *testing.T) {
		s := open(t)
		for i, title := range []string{"Alpha", "Beta", "Gamma"} {
			r := fixtureReport("rep_"+title, title)
			r.CreatedAt = fixedNow.Add(time.Duration(i) * time.Second)
			r.UpdatedAt = r.CreatedAt
			require.NoError(t, s.CreateReport(ctx, r))
		}

		sums, err := s.ListSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, sums, 3)
		assert.Equal(t, "Alpha", sums[0].Title)
		assert.Equal(t, "Beta", sums[1].Title)
		assert.Equal(t, "Gamma", sums[2].Title)
		assert.Equal(t, []string{"churn", "quarterly"}, sums[0].Tags)
		assert.Equal(t, 1, sums[0].Version)
	})

	t.Run("CountReports", func(t *testing.T) {
		s := open(t)
		n, err := s.CountReports(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, s.CreateReport(ctx, fixtureReport("rep_1", "One")))
		require.NoError(t, s.CreateReport(ctx, fixtureReport("rep_2", "Two")))
		n, err = s.CountReports(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
