package updater

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// SyncArgument defines sync_docs parameters.
type SyncArgument struct {
	AutoUpdate *bool `json:"auto_update,omitempty" jsonschema:"Download and install a newer snapshot when one is published. Defaults to the server setting"`
}

// SyncHandler handles the sync_docs MCP tool.
type SyncHandler struct {
	updater     *Updater
	defaultAuto bool
}

// NewSyncHandler creates a new sync handler. defaultAuto applies when the
// caller does not choose.
func NewSyncHandler(updater *Updater, defaultAuto bool) *SyncHandler {
	return &SyncHandler{
		updater:     updater,
		defaultAuto: defaultAuto,
	}
}

// Handle checks for, and optionally installs, a newer documentation snapshot.
func (h *SyncHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SyncArgument) (*mcp.CallToolResult, any, error) {
	auto := h.defaultAuto
	if args.AutoUpdate != nil {
		auto = *args.AutoUpdate
	}

	outcome, err := h.updater.Synchronize(ctx, auto)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: domain.UserMessage(err)},
			},
			IsError: true,
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: FormatOutcome(outcome)},
		},
	}, nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SyncHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "sync_docs",
		Description: "Check the documentation server for a newer documentation snapshot and, when auto_update is set, " +
			"download, verify and install it. The installed snapshot is never downgraded.",
	}
}

// RegisterSyncTool registers the sync tool with an MCP server.
func RegisterSyncTool(server *mcp.Server, updater *Updater, defaultAuto bool) {
	handler := NewSyncHandler(updater, defaultAuto)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// FormatOutcome renders an outcome for people.
func FormatOutcome(o Outcome) string {
	local := o.LocalVersion
	if local == "" {
		local = "none"
	}

	var sb strings.Builder
	switch o.Action {
	case ActionUpToDate:
		sb.WriteString(fmt.Sprintf("Documentation is up to date (installed %s, published %s)", local, o.RemoteVersion))
	case ActionUpdateAvailable:
		sb.WriteString(fmt.Sprintf("Documentation update available: %s -> %s", local, o.RemoteVersion))
		if o.Manifest.SizeMB > 0 {
			sb.WriteString(fmt.Sprintf(" (%.1f MB)", o.Manifest.SizeMB))
		}
	case ActionInstalled:
		sb.WriteString(fmt.Sprintf("Installed documentation %s (previously %s)", o.RemoteVersion, local))
	default:
		sb.WriteString(fmt.Sprintf("Documentation state: %s", o.State))
	}

	if o.Manifest.Changelog != "" && o.Action != ActionUpToDate {
		sb.WriteString("\nChangelog: ")
		sb.WriteString(o.Manifest.Changelog)
	}
	return sb.String()
}
