// Package model defines the domain types for kiroku: living reports, their
// sections and insights, proposed-change payloads, and the audit trail.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportStatus values commonly stored under the "status" metadata key.
// Any string is accepted; these are the conventional states.
const (
	ReportStatusDraft    = "draft"
	ReportStatusActive   = "active"
	ReportStatusArchived = "archived"
)

// Report is the versioned root aggregate of a living report.
// ReportID is immutable; Version increases by exactly one per successful
// evolution and never otherwise.
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
// SectionID is unique within the report; Title is unique among siblings.
// Removing a section does not remove its linked insights.
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
// The execution ID is opaque to kiroku — it is never verified against the
// query engine that produced it.
type Citation struct {
	ExecutionID string `json:"execution_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Database    string `json:"database,omitempty"`
	Schema      string `json:"schema,omitempty"`
	Table       string `json:"table,omitempty"`
}

// Populated reports whether the citation carries a non-empty execution ID.
func (c Citation) Populated() bool {
	return c.ExecutionID != ""
}

// Cited reports whether the insight carries at least one citation with a
// populated execution ID. This is the bar the semantic validator enforces.
func (i Insight) Cited() bool {
	for _, c := range i.Citations {
		if c.Populated() {
			return true
		}
	}
	return false
}

// ReportSummary is the lightweight registry row the resolver matches against.
type ReportSummary struct {
	ReportID  string    `json:"report_id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReport constructs an empty report at version 1.
func NewReport(title string, tags []string, metadata map[string]any) Report {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	return Report{
		ReportID:  "rep_" + uuid.NewString(),
		Title:     title,
		Tags:      tags,
		Metadata:  metadata,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Sections:  []Section{},
		Insights:  []Insight{},
	}
}

// NewInsightID and NewSectionID generate identifiers for adds that omit one.
func NewInsightID() string { return "ins_" + uuid.NewString() }
func NewSectionID() string { return "sec_" + uuid.NewString() }

// Summary projects the report onto its registry row.
func (r Report) Summary() ReportSummary {
	return ReportSummary{
		ReportID:  r.ReportID,
		Title:     r.Title,
		Tags:      r.Tags,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}

// Clone returns a deep copy. The applicator mutates a clone so a failure
// partway through never leaves the caller-visible report half-changed.
func (r Report) Clone() Report {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	out.Sections = make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		s.InsightIDs = append([]string(nil), s.InsightIDs...)
		out.Sections[i] = s
	}
	out.Insights = make([]Insight, len(r.Insights))
	for i, in := range r.Insights {
		in.Citations = append([]Citation(nil), in.Citations...)
		in.Tags = append([]string(nil), in.Tags...)
		out.Insights[i] = in
	}
	return out
}

// FindSection returns the index of the section with the given ID, or -1.
func (r Report) FindSection(sectionID string) int {
	for i, s := range r.Sections {
		if s.SectionID == sectionID {
			return i
		}
	}
	return -1
}

// FindInsight returns the index of the insight with the given ID, or -1.
func (r Report) FindInsight(insightID string) int {
	for i, in := range r.Insights {
		if in.InsightID == insightID {
			return i
		}
	}
	return -1
}

// InsightIDSet returns the set of insight IDs currently in the report.
func (r Report) InsightIDSet() map[string]bool {
	set := make(map[string]bool, len(r.Insights))
	for _, in := range r.Insights {
		set[in.InsightID] = true
	}
	return set
}

// SectionIDSet returns the set of section IDs currently in the report.
func (r Report) SectionIDSet() map[string]bool {
	set := make(map[string]bool, len(r.Sections))
	for _, s := range r.Sections {
		set[s.SectionID] = true
	}
	return set
}

// HasTag reports whether the report carries the given tag (case-insensitive).
func (r Report) HasTag(tag string) bool {
	return hasTagFold(r.Tags, tag)
}

// HasTag on a summary mirrors Report.HasTag for the resolver registry.
func (s ReportSummary) HasTag(tag string) bool {
	return hasTagFold(s.Tags, tag)
}

func hasTagFold(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
