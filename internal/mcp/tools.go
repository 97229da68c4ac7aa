package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/reports"
)

func (s *Server) registerTools() {
	// kiroku_resolve — map a selector to exactly one report.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_resolve",
			mcplib.WithDescription(`Resolve a report selector to exactly one report before evolving it.

WHEN TO USE: BEFORE calling kiroku_evolve when you only have a vague
reference ("the churn report") instead of a report ID. Resolution is
deterministic and tiered: exact ID, then exact title (case-insensitive),
then substring title match, then tag match.

WHAT YOU GET BACK: the report's ID, title, tags, and current version —
or a structured failure. An "ambiguous" failure lists every candidate so
you can pick one and retry with its exact ID. Never guess between
candidates yourself without telling the user.

EXAMPLE: kiroku_resolve with selector="churn" may resolve to the report
titled "Q3 Churn Analysis" if it is the only substring match.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("selector",
				mcplib.Description("Report ID, exact title, title fragment, or tag. Matching is case-insensitive except for IDs."),
				mcplib.Required(),
			),
		),
		s.handleResolve,
	)

	// kiroku_get — full current snapshot of a report.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_get",
			mcplib.WithDescription(`Fetch the full current snapshot of a report: sections, insights, metadata, version.

WHEN TO USE: Before proposing modifications. You need the current section
and insight IDs to build a valid change payload — the validator rejects
references to IDs that don't exist.

The selector works exactly like kiroku_resolve.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("selector",
				mcplib.Description("Report ID, exact title, title fragment, or tag"),
				mcplib.Required(),
			),
		),
		s.handleGet,
	)

	// kiroku_create — start a new living report.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_create",
			mcplib.WithDescription(`Create a new empty living report at version 1.

WHEN TO USE: Once per report, when starting a new body of findings. After
creation, add content with kiroku_evolve — creation itself takes no
sections or insights.

Pick a distinctive title: selectors resolve against titles, so "Q3 Churn
Analysis" beats "Report 1".`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title",
				mcplib.Description("Report title (1-500 characters, must be valid UTF-8 without control characters)"),
				mcplib.Required(),
			),
			mcplib.WithString("tags",
				mcplib.Description(`Optional JSON array of tag strings, e.g. ["churn","q3"]. Tags are alternate selectors.`),
			),
		),
		s.handleCreate,
	)

	// kiroku_evolve — apply one typed change payload.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_evolve",
			mcplib.WithDescription(`Evolve a report with a typed change payload. This is the ONLY way report content changes.

WHEN TO USE: Whenever findings change — new insights, corrected summaries,
restructured sections, a retitle. Every call that commits bumps the
version by exactly one and appends one audit record.

THE CHANGES PAYLOAD is a JSON object with any of these keys:
- insights_to_add:    [{summary, importance (1-10), citations: [{execution_id, ...}], tags?, status?, insight_id?}]
- insights_to_modify: [{insight_id, summary?, importance?, status?, citations?, tags?}] — omitted fields stay unchanged
- insights_to_remove: ["ins_..."]
- sections_to_add:    [{title, order?, notes?, content?, insight_ids?}]
- sections_to_modify: [{section_id, title?, order?, notes?, content?, insight_ids?}]
- sections_to_remove: ["sec_..."]
- title_change:       "New Title"
- metadata_updates:   {key: value}
- status_change:      "final"

RULES THE VALIDATOR ENFORCES (fix the payload, don't retry blindly):
- Added/modified insights need at least one citation with a non-empty
  execution_id, unless you set allow_uncited=true for this call.
- modify/remove IDs must exist; the error lists the valid IDs.
- Section titles must stay unique within the report (case-insensitive).
- Validation is all-or-nothing: one bad element rejects the whole call
  and the report is untouched.

Use dry_run=true to preview the version bump and change summary without
committing anything.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("selector",
				mcplib.Description("Report ID, exact title, title fragment, or tag"),
				mcplib.Required(),
			),
			mcplib.WithString("instruction",
				mcplib.Description("The natural-language instruction that motivated this change. Stored verbatim in the audit record — write it for a future reader asking why the report changed."),
				mcplib.Required(),
			),
			mcplib.WithString("changes",
				mcplib.Description("The change payload as a JSON object string (see tool description for the shape)"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("allow_uncited",
				mcplib.Description("Waive the citation requirement for this call only. Use sparingly and say so in the instruction."),
			),
			mcplib.WithBoolean("dry_run",
				mcplib.Description("Validate and preview without committing. The report and audit trail are untouched."),
			),
		),
		s.handleEvolve,
	)

	// kiroku_evolve_batch — ordered operation list, one atomic commit.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_evolve_batch",
			mcplib.WithDescription(`Apply an ordered list of operations as ONE atomic evolution: one version bump, one audit record.

WHEN TO USE: When a single instruction implies several dependent steps,
e.g. "replace the pricing insight and fold it into a new section". A new
section in the batch may reference an insight added earlier in the same
batch.

OPERATIONS is a JSON array of {"type": ..., ...} objects. Supported types:
add_insight {insight}, modify_insight {patch}, remove_insight {id},
add_section {section}, modify_section {patch}, remove_section {id},
set_title {title}, merge_metadata {metadata}, set_status {status}.

Removal-then-re-add of the same section title within one batch is legal:
uniqueness is checked against the state the batch produces, not the
starting state. All other kiroku_evolve rules apply unchanged.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("selector",
				mcplib.Description("Report ID, exact title, title fragment, or tag"),
				mcplib.Required(),
			),
			mcplib.WithString("instruction",
				mcplib.Description("The natural-language instruction that motivated this batch, stored verbatim in the audit record"),
				mcplib.Required(),
			),
			mcplib.WithString("operations",
				mcplib.Description("JSON array of operation objects (see tool description for the supported ops)"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("allow_uncited",
				mcplib.Description("Waive the citation requirement for this batch only"),
			),
			mcplib.WithBoolean("dry_run",
				mcplib.Description("Validate and preview without committing"),
			),
		),
		s.handleEvolveBatch,
	)

	// kiroku_audit — why did this report change?
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_audit",
			mcplib.WithDescription(`Read a report's audit trail: who changed it, when, why, and exactly what.

WHEN TO USE: To answer "why does the report say X" or to review how a
report reached its current version. Each record carries the actor, the
verbatim instruction, before/after versions, and the six-field ID summary
of what was added, modified, and removed. Records are hash-chained;
tampering with history is detectable.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("selector",
				mcplib.Description("Report ID, exact title, title fragment, or tag"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum records to return, newest last"),
				mcplib.Min(1),
				mcplib.Max(1000),
				mcplib.DefaultNumber(20),
			),
			mcplib.WithNumber("offset",
				mcplib.Description("Records to skip from the start of the trail"),
				mcplib.Min(0),
				mcplib.DefaultNumber(0),
			),
		),
		s.handleAudit,
	)
}

func (s *Server) handleResolve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	selector := request.GetString("selector", "")
	if selector == "" {
		return errorResult("selector is required"), nil
	}
	sum, err := s.svc.Resolve(ctx, selector)
	if err != nil {
		return serviceErrorResult(err), nil
	}
	return jsonResult(sum), nil
}

func (s *Server) handleGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	selector := request.GetString("selector", "")
	if selector == "" {
		return errorResult("selector is required"), nil
	}
	report, err := s.svc.Get(ctx, selector)
	if err != nil {
		return serviceErrorResult(err), nil
	}
	return jsonResult(report), nil
}

func (s *Server) handleCreate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	if title == "" {
		return errorResult("title is required"), nil
	}
	var tags []string
	if raw := request.GetString("tags", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return errorResult(fmt.Sprintf("tags must be a JSON array of strings: %v", err)), nil
		}
	}
	report, err := s.svc.Create(ctx, model.CreateReportRequest{Title: title, Tags: tags})
	if err != nil {
		return serviceErrorResult(err), nil
	}
	s.logger.Info("mcp: report created", "report_id", report.ReportID, "actor", actor(ctx))
	return jsonResult(report), nil
}

func (s *Server) handleEvolve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	selector := request.GetString("selector", "")
	instruction := request.GetString("instruction", "")
	rawChanges := request.GetString("changes", "")
	if selector == "" || instruction == "" || rawChanges == "" {
		return errorResult("selector, instruction, and changes are required"), nil
	}

	var pc model.ProposedChanges
	if err := decodeStrict([]byte(rawChanges), &pc); err != nil {
		return errorResult(fmt.Sprintf("changes is not a valid change payload: %v", err)), nil
	}

	result, err := s.svc.Evolve(ctx, selector, actor(ctx), model.EvolveRequest{
		Instruction: instruction,
		Changes:     pc,
		Constraints: constraintsFromRequest(request),
		DryRun:      request.GetBool("dry_run", false),
	})
	if err != nil {
		return serviceErrorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleEvolveBatch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	selector := request.GetString("selector", "")
	instruction := request.GetString("instruction", "")
	rawOps := request.GetString("operations", "")
	if selector == "" || instruction == "" || rawOps == "" {
		return errorResult("selector, instruction, and operations are required"), nil
	}

	var ops []model.Operation
	if err := json.Unmarshal([]byte(rawOps), &ops); err != nil {
		return errorResult(fmt.Sprintf("operations is not a valid JSON array of operations: %v", err)), nil
	}

	result, err := s.svc.EvolveBatch(ctx, selector, actor(ctx), model.EvolveBatchRequest{
		Instruction: instruction,
		Operations:  ops,
		Constraints: constraintsFromRequest(request),
		DryRun:      request.GetBool("dry_run", false),
	})
	if err != nil {
		return serviceErrorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	selector := request.GetString("selector", "")
	if selector == "" {
		return errorResult("selector is required"), nil
	}
	limit := request.GetInt("limit", 20)
	offset := request.GetInt("offset", 0)

	recs, err := s.svc.Audit(ctx, selector, limit, offset)
	if err != nil {
		return serviceErrorResult(err), nil
	}
	return jsonResult(recs), nil
}

// constraintsFromRequest builds the per-call constraint map from tool args.
func constraintsFromRequest(request mcplib.CallToolRequest) model.Constraints {
	if request.GetBool("allow_uncited", false) {
		return model.Constraints{model.ConstraintAllowUncited: true}
	}
	return nil
}

// serviceErrorResult renders engine errors as structured JSON so the caller
// can repair the payload: ambiguous resolutions carry candidates, validation
// failures carry the full field error list with valid IDs.
func serviceErrorResult(err error) *mcplib.CallToolResult {
	var resErr *reports.ResolutionError
	if errors.As(err, &resErr) {
		data, _ := json.MarshalIndent(resErr, "", "  ")
		return &mcplib.CallToolResult{
			Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
			IsError: true,
		}
	}
	var valErr *reports.ValidationError
	if errors.As(err, &valErr) {
		data, _ := json.MarshalIndent(valErr, "", "  ")
		return &mcplib.CallToolResult{
			Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
			IsError: true,
		}
	}
	return errorResult(err.Error())
}

// decodeStrict unmarshals with unknown fields rejected, so typos in change
// payload keys fail loudly instead of silently proposing nothing.
func decodeStrict(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
