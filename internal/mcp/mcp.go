// Package mcp implements the Model Context Protocol server for kiroku.
//
// The MCP server exposes the same capabilities as the HTTP API through MCP
// resources and tools, allowing MCP-compatible AI agents to evolve living
// reports without duplicating any engine behavior: every tool delegates to
// the same service the HTTP handlers use.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/ctxutil"
	"github.com/ashita-ai/kiroku/internal/service/reports"
)

// Server wraps the MCP server with kiroku's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *reports.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(svc *reports.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// actor extracts the authenticated actor from the tool call context,
// defaulting to "mcp" when the transport carries no identity.
func actor(ctx context.Context) string {
	if a := ctxutil.ActorFromContext(ctx); a != "" {
		return a
	}
	return "mcp"
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
