package mcp

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/embedding"
	"github.com/sha1n/mcp-frcdocs-server/internal/query"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	store, err := docstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("docstore.New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	chunks := []domain.DocumentChunk{
		{ID: "a", Text: "Configure a SparkMax", Embedding: []float32{1, 0}, Version: "2025.3.2", Language: "Java", SourcePath: "docs/a.rst"},
		{ID: "b", Text: "Vision processing", Embedding: []float32{0, 1}, Version: "2025.3.2", Language: "Python", SourcePath: "docs/b.rst"},
	}
	staged, err := docstore.WriteStaged(filepath.Join(store.StagingDir(), "stage"), "2025.3.2", "", chunks)
	if err != nil {
		t.Fatalf("WriteStaged failed: %v", err)
	}
	if err := store.Install(context.Background(), staged); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	return store
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func toolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	return names
}

func TestCreateServer(t *testing.T) {
	cfg := ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
	}

	server := CreateServer(cfg)
	if server == nil {
		t.Fatal("Expected server to be created")
	}
}

func TestCreateServer_EmptyConfig(t *testing.T) {
	server := CreateServer(ServerConfig{})
	if server == nil {
		t.Fatal("Expected server to be created even with empty config")
	}
}

func TestCreateServer_ToolsRegistered(t *testing.T) {
	store := newStore(t)
	engine := query.New(store, embedding.NewFakeEmbedder(2), query.Options{})
	up := updater.New(store, updater.Config{BaseURL: "http://127.0.0.1:1"})

	server := CreateServer(ServerConfig{
		Name:    "frcdocs-mcp",
		Version: "1.0.0",
		Engine:  engine,
		Updater: up,
	})
	session := connect(t, server)

	want := []string{
		"embed_query",
		"get_latest_version",
		"list_available_languages",
		"list_available_versions",
		"query_docs",
		"sync_docs",
	}
	if got := toolNames(t, session); !slices.Equal(got, want) {
		t.Errorf("tools = %v, want %v", got, want)
	}
}

func TestCreateServer_CallQueryTool(t *testing.T) {
	store := newStore(t)
	embedder := embedding.NewFakeEmbedder(2)
	embedder.SetVector("How do I configure a SparkMax?", []float32{1, 0})
	engine := query.New(store, embedder, query.Options{})

	session := connect(t, CreateServer(ServerConfig{Name: "frcdocs-mcp", Version: "1.0.0", Engine: engine}))

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "query_docs",
		Arguments: map[string]any{"question": "How do I configure a SparkMax?", "top_k": 1},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, `"id": "a"`) || strings.Contains(text, `"id": "b"`) {
		t.Errorf("unexpected response %s", text)
	}
}
