package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-frcdocs-server/internal/query"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Engine serves the retrieval tools. Nil registers none.
	Engine *query.Engine

	// Updater serves sync_docs. Nil registers none.
	Updater *updater.Updater
	// AutoUpdate is the sync_docs default when the caller does not choose.
	AutoUpdate bool
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Engine != nil {
		query.RegisterTools(s, cfg.Engine)
	}
	if cfg.Updater != nil {
		updater.RegisterSyncTool(s, cfg.Updater, cfg.AutoUpdate)
	}

	return s
}
