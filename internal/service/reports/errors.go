package reports

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ResolutionKind classifies a selector resolution failure.
type ResolutionKind string

const (
	ResolutionNotFound      ResolutionKind = "not_found"
	ResolutionAmbiguous     ResolutionKind = "ambiguous"
	ResolutionInvalidFormat ResolutionKind = "invalid_format"
)

// ResolutionError is returned when a selector cannot be mapped to exactly
// one report. Ambiguous failures carry every candidate from the matching
// tier; ties are never silently broken.
type ResolutionError struct {
	Kind       ResolutionKind        `json:"kind"`
	Selector   string                `json:"selector"`
	Candidates []model.ReportSummary `json:"candidates,omitempty"`
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case ResolutionAmbiguous:
		ids := make([]string, len(e.Candidates))
		for i, c := range e.Candidates {
			ids[i] = c.ReportID
		}
		return fmt.Sprintf("reports: selector %q is ambiguous between [%s]", e.Selector, strings.Join(ids, ", "))
	case ResolutionInvalidFormat:
		return fmt.Sprintf("reports: selector %q has an invalid format", e.Selector)
	default:
		return fmt.Sprintf("reports: no report matches selector %q", e.Selector)
	}
}

// FieldError is one field-scoped validation failure. For ID-not-found cases
// ValidIDs carries the currently valid ID set so the caller can correct the
// payload in one round trip.
type FieldError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	ValidIDs []string `json:"valid_ids,omitempty"`
}

// ValidationError carries the exhaustive error list from a schema or
// semantic validation pass. Validation failures touch no state.
type ValidationError struct {
	Stage  string       `json:"stage"` // "schema" or "semantic"
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reports: %s validation failed with %d error(s)", e.Stage, len(e.Errors))
}

// ExecutionError wraps a storage failure that occurred after validation
// passed. The underlying cause is surfaced as-is; there is no internal retry.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("reports: %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
