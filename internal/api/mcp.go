package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  Analyzer
	Catalog Catalog
	Store   *storage.Store // optional; if nil, get_insight returns an error
}

// NewMCPServer creates an MCP server with the analysis tools and the prompt
// catalog resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"influix",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("influix analyzes social content and explains why it works."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_content",
			mcp.WithDescription("Analyze a piece of content (transcript, caption, or script) and return structured insights."),
			mcp.WithString("content", mcp.Description("The text to analyze"), mcp.Required()),
			mcp.WithString("template", mcp.Description("Prompt template id (default content-analysis)")),
			mcp.WithString("metadata", mcp.Description("Optional JSON object with extra context such as platform or creator")),
		),
		mcpAnalyzeContent(deps),
	)

	s.AddTool(
		mcp.NewTool("compare_content",
			mcp.WithDescription("Compare two pieces of content and explain which performs better and why."),
			mcp.WithString("content_a", mcp.Description("First content"), mcp.Required()),
			mcp.WithString("content_b", mcp.Description("Second content"), mcp.Required()),
		),
		mcpCompareContent(deps),
	)

	s.AddTool(
		mcp.NewTool("list_prompts",
			mcp.WithDescription("List the available analysis prompt templates."),
		),
		mcpListPrompts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_insight",
			mcp.WithDescription("Fetch a stored insight by id."),
			mcp.WithString("id", mcp.Description("Insight id"), mcp.Required()),
		),
		mcpGetInsight(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"prompts://catalog",
			"Prompt Catalog",
			mcp.WithResourceDescription("Every prompt template with its output schema description"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpAnalyzeContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil || content == "" {
			return mcpError("content is required"), nil
		}
		if utf8.RuneCountInString(content) > MaxAnalysisLength {
			return mcpError(fmt.Sprintf("content exceeds %d characters", MaxAnalysisLength)), nil
		}

		template := req.GetString("template", inference.DefaultTemplate)

		var metadata map[string]any
		if raw := req.GetString("metadata", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				return mcpError(fmt.Sprintf("invalid metadata JSON: %v", err)), nil
			}
		}

		return mcpOutcome(deps.Engine.Run(ctx, template, content, metadata))
	}
}

func mcpCompareContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := req.RequireString("content_a")
		if err != nil || a == "" {
			return mcpError("content_a is required"), nil
		}
		b, err := req.RequireString("content_b")
		if err != nil || b == "" {
			return mcpError("content_b is required"), nil
		}
		return mcpOutcome(deps.Engine.Compare(ctx, a, b, nil))
	}
}

func mcpOutcome(o inference.Outcome) (*mcp.CallToolResult, error) {
	if !o.OK() {
		return mcpError(fmt.Sprintf("analysis failed: %v", o.Failure)), nil
	}
	b, err := json.Marshal(o.Result)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

type promptSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Contract string `json:"contract"`
}

func mcpListPrompts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list := deps.Catalog.List()
		out := make([]promptSummary, len(list))
		for i, t := range list {
			out[i] = promptSummary{ID: t.ID, Name: t.Name, Version: t.Version, Contract: t.Contract}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal prompts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetInsight(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Store == nil {
			return mcpError("insight storage not available"), nil
		}
		id, err := req.RequireString("id")
		if err != nil || id == "" {
			return mcpError("id is required"), nil
		}
		ins, err := deps.Store.GetInsight(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("insight %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get insight: %v", err)), nil
		}
		b, err := json.Marshal(newInsightResponse(ins))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal insight: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Catalog.List())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
