package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// QueryArgument defines query_docs parameters.
type QueryArgument struct {
	Question string `json:"question" jsonschema:"The question about FRC or WPILib to retrieve documentation for"`
	Version  string `json:"version,omitempty" jsonschema:"Documentation version (e.g. 2025.3.2). Defaults to the latest installed version"`
	Language string `json:"language,omitempty" jsonschema:"Programming language or documentation type: Java, Python, C++ or API Reference. Omit to search all"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Maximum number of chunks to return"`
}

// VersionArgument defines list_available_languages parameters.
type VersionArgument struct {
	Version string `json:"version,omitempty" jsonschema:"Documentation version. If omitted, languages of all versions are listed"`
}

// EmbedArgument defines embed_query parameters.
type EmbedArgument struct {
	Query string `json:"query" jsonschema:"The text to embed"`
}

// NoArguments is used by tools without parameters.
type NoArguments struct{}

// retrievedChunk is the wire shape of a hit returned by query_docs.
type retrievedChunk struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Citation domain.Citation `json:"citation"`
	Metadata chunkMetadata   `json:"metadata"`
}

type chunkMetadata struct {
	Component   string `json:"component,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

type queryResponse struct {
	Question string           `json:"question"`
	Version  string           `json:"version"`
	Language string           `json:"language,omitempty"`
	Count    int              `json:"count"`
	Chunks   []retrievedChunk `json:"chunks"`
}

// QueryHandler handles the query_docs MCP tool.
type QueryHandler struct {
	engine *Engine
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine *Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// Handle retrieves ranked documentation chunks with citations.
func (h *QueryHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args QueryArgument) (*mcp.CallToolResult, any, error) {
	result, err := h.engine.Query(ctx, domain.QueryRequest{
		Question: args.Question,
		Version:  args.Version,
		Language: args.Language,
		TopK:     args.TopK,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}

	resp := queryResponse{
		Question: result.Question,
		Version:  result.Version,
		Language: result.Language,
		Count:    len(result.Hits),
		Chunks:   make([]retrievedChunk, len(result.Hits)),
	}
	for i, hit := range result.Hits {
		resp.Chunks[i] = retrievedChunk{
			ID:       hit.Chunk.ID,
			Text:     hit.Chunk.Text,
			Score:    hit.Score,
			Citation: hit.Chunk.Citation(),
			Metadata: chunkMetadata{Component: hit.Chunk.Component, LastUpdated: hit.Chunk.LastUpdated},
		}
	}
	return jsonResult(resp), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *QueryHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "query_docs",
		Description: "Retrieve relevant FRC/WPILib documentation chunks for a question, ranked by similarity, with citations. " +
			"This tool performs retrieval only; answer the question from the returned chunks. " +
			"Version defaults to the latest installed documentation.",
	}
}

// LatestVersionHandler handles the get_latest_version MCP tool.
type LatestVersionHandler struct {
	engine *Engine
}

// NewLatestVersionHandler creates a new latest version handler.
func NewLatestVersionHandler(engine *Engine) *LatestVersionHandler {
	return &LatestVersionHandler{engine: engine}
}

// Handle returns the newest installed documentation version.
func (h *LatestVersionHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args NoArguments) (*mcp.CallToolResult, any, error) {
	version, err := h.engine.LatestVersion()
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(version), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *LatestVersionHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_latest_version",
		Description: "Return the latest documentation version installed",
	}
}

// VersionsHandler handles the list_available_versions MCP tool.
type VersionsHandler struct {
	engine *Engine
}

// NewVersionsHandler creates a new versions handler.
func NewVersionsHandler(engine *Engine) *VersionsHandler {
	return &VersionsHandler{engine: engine}
}

// Handle lists the installed documentation versions, newest first.
func (h *VersionsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args NoArguments) (*mcp.CallToolResult, any, error) {
	versions, err := h.engine.ListVersions()
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(versions) == 0 {
		return textResult("No documentation versions found"), nil, nil
	}
	return textResult("Available documentation versions: " + strings.Join(versions, ", ")), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *VersionsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_available_versions",
		Description: "List all documentation versions available in the installed snapshot",
	}
}

// LanguagesHandler handles the list_available_languages MCP tool.
type LanguagesHandler struct {
	engine *Engine
}

// NewLanguagesHandler creates a new languages handler.
func NewLanguagesHandler(engine *Engine) *LanguagesHandler {
	return &LanguagesHandler{engine: engine}
}

// Handle lists the documented languages for a version.
func (h *LanguagesHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args VersionArgument) (*mcp.CallToolResult, any, error) {
	languages, err := h.engine.ListLanguages(args.Version)
	if err != nil {
		return errorResult(err), nil, nil
	}

	scope := ""
	if v := strings.TrimSpace(args.Version); v != "" {
		scope = " for version " + v
	}
	if len(languages) == 0 {
		return textResult("No languages found" + scope), nil, nil
	}
	return textResult(fmt.Sprintf("Available languages%s: %s", scope, strings.Join(languages, ", "))), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *LanguagesHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_available_languages",
		Description: "List available languages for a specific documentation version (or all languages)",
	}
}

// EmbedHandler handles the embed_query MCP tool.
type EmbedHandler struct {
	engine *Engine
}

// NewEmbedHandler creates a new embed handler.
func NewEmbedHandler(engine *Engine) *EmbedHandler {
	return &EmbedHandler{engine: engine}
}

// Handle returns the embedding vector of the query.
func (h *EmbedHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args EmbedArgument) (*mcp.CallToolResult, any, error) {
	emb, err := h.engine.EmbedQuery(ctx, args.Query)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(emb), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *EmbedHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "embed_query",
		Description: "Generate the embedding vector of a query with the configured embedding model. " +
			"Useful for caching embeddings or client-side similarity search.",
	}
}

// RegisterTools registers the retrieval tools with an MCP server.
func RegisterTools(server *mcp.Server, engine *Engine) {
	queryHandler := NewQueryHandler(engine)
	mcp.AddTool(server, queryHandler.GetToolDefinition(), queryHandler.Handle)

	latestHandler := NewLatestVersionHandler(engine)
	mcp.AddTool(server, latestHandler.GetToolDefinition(), latestHandler.Handle)

	versionsHandler := NewVersionsHandler(engine)
	mcp.AddTool(server, versionsHandler.GetToolDefinition(), versionsHandler.Handle)

	languagesHandler := NewLanguagesHandler(engine)
	mcp.AddTool(server, languagesHandler.GetToolDefinition(), languagesHandler.Handle)

	embedHandler := NewEmbedHandler(engine)
	mcp.AddTool(server, embedHandler.GetToolDefinition(), embedHandler.Handle)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding response: %w", err))
	}
	return textResult(string(data))
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: domain.UserMessage(err)},
		},
		IsError: true,
	}
}
