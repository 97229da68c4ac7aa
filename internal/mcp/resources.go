package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// kiroku://reports — the report registry (all summaries).
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kiroku://reports",
			"Report Registry",
			mcplib.WithResourceDescription("All living reports: ID, title, tags, and current version"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleReportsResource,
	)

	// kiroku://report/{selector} — full snapshot of one report.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kiroku://report/{selector}",
			"Report Snapshot",
			mcplib.WithTemplateDescription("Full current snapshot of one report, resolved by ID, title, fragment, or tag"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleReportResource,
	)

	// kiroku://report/{selector}/audit — the report's audit trail.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kiroku://report/{selector}/audit",
			"Report Audit Trail",
			mcplib.WithTemplateDescription("Hash-chained audit trail of one report, oldest first"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAuditResource,
	)
}

func (s *Server) handleReportsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	sums, err := s.svc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list reports: %w", err)
	}
	data, err := json.MarshalIndent(sums, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal summaries: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReportResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	selector, err := selectorFromURI(request.Params.URI, "")
	if err != nil {
		return nil, err
	}
	report, err := s.svc.Get(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("mcp: get report: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal report: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAuditResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	selector, err := selectorFromURI(request.Params.URI, "/audit")
	if err != nil {
		return nil, err
	}
	recs, err := s.svc.Audit(ctx, selector, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: audit trail: %w", err)
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal audit records: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// selectorFromURI picks the selector out of a kiroku://report/... URI,
// stripping the given suffix if present.
func selectorFromURI(uri, suffix string) (string, error) {
	const prefix = "kiroku://report/"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("mcp: unexpected resource URI %q", uri)
	}
	selector := uri[len(prefix):]
	if suffix != "" && len(selector) > len(suffix) && selector[len(selector)-len(suffix):] == suffix {
		selector = selector[:len(selector)-len(suffix)]
	}
	if selector == "" {
		return "", fmt.Errorf("mcp: empty selector in resource URI %q", uri)
	}
	return selector, nil
}
