package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/storage"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, projectID, query string) ([]retrieval.ScoredChunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher MCPSearcher // optional; if nil, search_documents reports unavailable
}

// NewMCPServer registers the document tools the agent uses to reach
// project file contents on demand. get_file_content is the lookup named in
// the file manifest the prompt assembler builds.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dealsense",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("dealsense: project document access for deal intelligence chats."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_file_content",
			mcp.WithDescription("Read the full extracted text of a file attached to a project. Use the exact file name from the project file list."),
			mcp.WithString("project", mcp.Description("Project name or ID"), mcp.Required()),
			mcp.WithString("file_name", mcp.Description("Name of the attached file"), mcp.Required()),
		),
		mcpGetFileContent(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search a project's documents and return the most relevant excerpts."),
			mcp.WithString("project", mcp.Description("Project name or ID"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchDocuments(deps),
	)

	return s
}

func mcpGetFileContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project, err := req.RequireString("project")
		if err != nil {
			return mcpError("project is required"), nil
		}
		fileName, err := req.RequireString("file_name")
		if err != nil {
			return mcpError("file_name is required"), nil
		}

		projectID, err := identity.ResolveProjectID(ctx, project, deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("resolving project: %v", err)), nil
		}
		if projectID == "" {
			return mcpError(fmt.Sprintf("project %q not found", project)), nil
		}

		doc, err := deps.Store.FindDocumentByName(ctx, projectID, fileName)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("file %q not found in project", fileName)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading file: %v", err)), nil
		}

		return mcpText(doc.Content), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Searcher == nil {
			return mcpError("search not available: embeddings not configured"), nil
		}

		project, err := req.RequireString("project")
		if err != nil {
			return mcpError("project is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		projectID, err := identity.ResolveProjectID(ctx, project, deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("resolving project: %v", err)), nil
		}
		if projectID == "" {
			return mcpError(fmt.Sprintf("project %q not found", project)), nil
		}

		chunks, err := deps.Searcher.Search(ctx, projectID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			DocumentID string  `json:"document_id"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{DocumentID: c.DocumentID, Text: c.Content, Score: c.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling results: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
