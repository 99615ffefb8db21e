package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/storage"
)

type mockMCPSearcher struct {
	chunks []retrieval.ScoredChunk
	err    error
}

func (m *mockMCPSearcher) Search(_ context.Context, _, _ string) ([]retrieval.ScoredChunk, error) {
	return m.chunks, m.err
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Store: store, Searcher: &mockMCPSearcher{}}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestGetFileContent(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()

	projectID := uuid.New().String()
	err := store.CreateProject(ctx, storage.Project{ID: projectID, Name: "Acme Deal", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	err = store.SaveDocument(ctx, storage.Document{
		ID: uuid.New().String(), ProjectID: projectID, Name: "terms.txt", Content: "full terms text",
	})
	if err != nil {
		t.Fatalf("saving document: %v", err)
	}

	handler := mcpGetFileContent(deps)

	result, err := handler(ctx, makeCallToolRequest("get_file_content", map[string]interface{}{
		"project":   "acme deal",
		"file_name": "terms.txt",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "full terms text" {
		t.Errorf("content = %q, want full document text", got)
	}

	result, err = handler(ctx, makeCallToolRequest("get_file_content", map[string]interface{}{
		"project":   "Acme Deal",
		"file_name": "missing.txt",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("missing file: expected tool error")
	}

	result, err = handler(ctx, makeCallToolRequest("get_file_content", map[string]interface{}{
		"project":   "No Such Deal",
		"file_name": "terms.txt",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("unknown project: expected tool error")
	}
}

func TestSearchDocuments(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()

	projectID := uuid.New().String()
	err := store.CreateProject(ctx, storage.Project{ID: projectID, Name: "Acme Deal", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	deps.Searcher = &mockMCPSearcher{chunks: []retrieval.ScoredChunk{
		{Chunk: retrieval.Chunk{DocumentID: "doc-1", Content: "relevant excerpt"}, Score: 0.9},
	}}

	result, err := mcpSearchDocuments(deps)(ctx, makeCallToolRequest("search_documents", map[string]interface{}{
		"project": projectID,
		"query":   "acquisition terms",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var results []struct {
		DocumentID string  `json:"document_id"`
		Text       string  `json:"text"`
		Score      float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc-1" || results[0].Text != "relevant excerpt" {
		t.Errorf("results = %+v", results)
	}

	// No hits is an empty array, not an error.
	deps.Searcher = &mockMCPSearcher{}
	result, err = mcpSearchDocuments(deps)(ctx, makeCallToolRequest("search_documents", map[string]interface{}{
		"project": projectID,
		"query":   "nothing",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError || toolText(t, result) != "[]" {
		t.Errorf("empty search = %q, isError %v", toolText(t, result), result.IsError)
	}
}

func TestSearchDocumentsUnconfigured(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Searcher = nil

	result, err := mcpSearchDocuments(deps)(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"project": "x",
		"query":   "y",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error when search is unconfigured")
	}
}
