package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Repo is the reasoning store the tools operate on. Without it the
	// server exposes no tools.
	Repo *store.Repository

	// Changes supplies HEAD and the working tree changes. May be nil.
	Changes query.ChangeSource
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Repo != nil {
		engine := query.New(cfg.Repo, cfg.Changes)
		var commits store.CommitSource
		if cfg.Changes != nil {
			commits = cfg.Changes
		}
		RegisterRecordTool(s, cfg.Repo, commits)
		RegisterExplainTool(s, engine)
		RegisterSearchTool(s, engine)
		RegisterListTool(s, engine)
		RegisterStatusTool(s, cfg.Repo.Root(), engine)
	}

	return s
}
