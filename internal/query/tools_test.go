package query

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected content in tool result")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestQueryHandler_Handle(t *testing.T) {
	engine, _ := newEngine(t, corpus(), Options{})
	handler := NewQueryHandler(engine)

	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{
		Question: driveQuestion,
		Language: "cpp",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", extractText(t, result))
	}

	var resp queryResponse
	if err := json.Unmarshal([]byte(extractText(t, result)), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Version != "2025.3.2" || resp.Language != "C++" || resp.Count != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(resp.Chunks))
	}
	got := resp.Chunks[0]
	if got.ID != "cpp-drive" || got.Citation.SourcePath != "docs/cpp-drive.rst" || got.Citation.Language != "C++" {
		t.Errorf("unexpected chunk %+v", got)
	}
	if got.Score <= 0 {
		t.Errorf("expected positive score, got %f", got.Score)
	}
}

func TestQueryHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []domain.DocumentChunk
		args     QueryArgument
		contains string
	}{
		{"empty question", corpus(), QueryArgument{}, "Invalid request"},
		{"unsupported language", corpus(), QueryArgument{Question: driveQuestion, Language: "Kotlin"}, "unsupported language"},
		{"top k too large", corpus(), QueryArgument{Question: driveQuestion, TopK: 500}, "top_k"},
		{"nothing installed", nil, QueryArgument{Question: driveQuestion}, "No documentation is installed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newEngine(t, tt.chunks, Options{})
			result, _, err := NewQueryHandler(engine).Handle(context.Background(), &mcp.CallToolRequest{}, tt.args)
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected an error result")
			}
			if text := extractText(t, result); !strings.Contains(text, tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, text)
			}
		})
	}
}

func TestQueryHandler_EmbeddingFailure(t *testing.T) {
	engine, embedder := newEngine(t, corpus(), Options{})
	embedder.SetError(domain.ErrRateLimit)

	result, _, err := NewQueryHandler(engine).Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{Question: driveQuestion})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	if text := extractText(t, result); !strings.Contains(text, "rate limiting") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestListingHandlers(t *testing.T) {
	engine, _ := newEngine(t, corpus(), Options{})
	ctx := context.Background()

	result, _, _ := NewLatestVersionHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, NoArguments{})
	if text := extractText(t, result); text != "2025.3.2" {
		t.Errorf("get_latest_version = %q", text)
	}

	result, _, _ = NewVersionsHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, NoArguments{})
	if text := extractText(t, result); text != "Available documentation versions: 2025.3.2, 2024.3.2, 2024.1.1" {
		t.Errorf("list_available_versions = %q", text)
	}

	result, _, _ = NewLanguagesHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, VersionArgument{Version: "2024.3.2"})
	if text := extractText(t, result); text != "Available languages for version 2024.3.2: Java" {
		t.Errorf("list_available_languages = %q", text)
	}

	result, _, _ = NewLanguagesHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, VersionArgument{})
	if text := extractText(t, result); text != "Available languages: API Reference, C++, Java, Python" {
		t.Errorf("list_available_languages = %q", text)
	}

	result, _, _ = NewLanguagesHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, VersionArgument{Version: "2019.1.1"})
	if text := extractText(t, result); text != "No languages found for version 2019.1.1" {
		t.Errorf("list_available_languages = %q", text)
	}
}

func TestListingHandlers_NoDocumentation(t *testing.T) {
	engine, _ := newEngine(t, nil, Options{})
	ctx := context.Background()

	results := []*mcp.CallToolResult{}
	r, _, _ := NewLatestVersionHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, NoArguments{})
	results = append(results, r)
	r, _, _ = NewVersionsHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, NoArguments{})
	results = append(results, r)
	r, _, _ = NewLanguagesHandler(engine).Handle(ctx, &mcp.CallToolRequest{}, VersionArgument{})
	results = append(results, r)

	for i, result := range results {
		if !result.IsError {
			t.Errorf("result %d: expected an error result", i)
		}
		if text := extractText(t, result); !strings.Contains(text, "No documentation is installed") {
			t.Errorf("result %d: unexpected text %q", i, text)
		}
	}
}

func TestEmbedHandler_Handle(t *testing.T) {
	engine, _ := newEngine(t, corpus(), Options{Model: "voyage-code-3"})

	result, _, err := NewEmbedHandler(engine).Handle(context.Background(), &mcp.CallToolRequest{}, EmbedArgument{Query: driveQuestion})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", extractText(t, result))
	}

	var emb Embedding
	if err := json.Unmarshal([]byte(extractText(t, result)), &emb); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if emb.Dimension != 3 || len(emb.Vector) != 3 || emb.Model != "voyage-code-3" {
		t.Errorf("unexpected embedding %+v", emb)
	}

	result, _, _ = NewEmbedHandler(engine).Handle(context.Background(), &mcp.CallToolRequest{}, EmbedArgument{})
	if !result.IsError {
		t.Error("expected an error result for an empty query")
	}
}

func TestToolDefinitions(t *testing.T) {
	engine := New(nil, nil, Options{})
	want := map[string]*mcp.Tool{
		"query_docs":               NewQueryHandler(engine).GetToolDefinition(),
		"get_latest_version":       NewLatestVersionHandler(engine).GetToolDefinition(),
		"list_available_versions":  NewVersionsHandler(engine).GetToolDefinition(),
		"list_available_languages": NewLanguagesHandler(engine).GetToolDefinition(),
		"embed_query":              NewEmbedHandler(engine).GetToolDefinition(),
	}
	for name, tool := range want {
		if tool.Name != name {
			t.Errorf("tool name = %q, want %q", tool.Name, name)
		}
		if tool.Description == "" {
			t.Errorf("tool %s has no description", name)
		}
	}
}
