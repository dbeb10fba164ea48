package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AvraamMavridis/lore/internal/config"
	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/render"
	"github.com/AvraamMavridis/lore/internal/store"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// rendered runs fn against a plain text renderer and wraps its output.
func rendered(fn func(r *render.Renderer) error) *mcp.CallToolResult {
	var buf bytes.Buffer
	if err := fn(render.New(&buf, config.FormatText)); err != nil {
		return errorResult("Failed to format result: %s", err)
	}
	return textResult(buf.String())
}

// AlternativeArgument is a rejected option supplied to the record tool.
type AlternativeArgument struct {
	Name   string `json:"name" jsonschema:"Name of the option that was not taken"`
	Reason string `json:"reason,omitempty" jsonschema:"Why it was rejected"`
}

// RecordArgument defines the parameters of a new reasoning entry.
type RecordArgument struct {
	Files        []string              `json:"files" jsonschema:"Repository-relative paths the reasoning applies to"`
	Intent       string                `json:"intent" jsonschema:"One-line summary of what the change does"`
	Trace        string                `json:"trace,omitempty" jsonschema:"Full reasoning behind the change"`
	Agent        string                `json:"agent,omitempty" jsonschema:"Identifier of the author (defaults to the repository default agent)"`
	LineRange    string                `json:"line_range,omitempty" jsonschema:"Affected lines as start-end (e.g. 10-45)"`
	Alternatives []AlternativeArgument `json:"alternatives,omitempty" jsonschema:"Options considered and rejected"`
	Tags         []string              `json:"tags,omitempty" jsonschema:"Free-form labels"`
}

// RecordHandler handles the record MCP tool.
type RecordHandler struct {
	repo    *store.Repository
	commits store.CommitSource
}

// NewRecordHandler creates a new record handler. commits may be nil.
func NewRecordHandler(repo *store.Repository, commits store.CommitSource) *RecordHandler {
	return &RecordHandler{repo: repo, commits: commits}
}

// Handle records a new entry.
func (h *RecordHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args RecordArgument) (*mcp.CallToolResult, any, error) {
	rr := store.RecordRequest{
		Files:  args.Files,
		Intent: args.Intent,
		Trace:  args.Trace,
		Agent:  args.Agent,
		Tags:   args.Tags,
	}
	if strings.TrimSpace(args.LineRange) != "" {
		lr, err := domain.ParseLineRange(args.LineRange)
		if err != nil {
			return errorResult("%s", err), nil, nil
		}
		rr.LineRange = lr
	}
	for _, a := range args.Alternatives {
		rr.Alternatives = append(rr.Alternatives, domain.RejectedAlternative{Name: a.Name, Reason: a.Reason})
	}

	res, err := h.repo.Record(ctx, rr, h.commits)
	if err != nil {
		return errorResult("Failed to record reasoning: %s", err), nil, nil
	}
	return rendered(func(r *render.Renderer) error { return r.Recorded(res) }), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *RecordHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lore_record",
		Description: "Record the reasoning behind a change to one or more files",
	}
}

// RegisterRecordTool registers the record tool with an MCP server.
func RegisterRecordTool(server *mcp.Server, repo *store.Repository, commits store.CommitSource) {
	handler := NewRecordHandler(repo, commits)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// ExplainArgument defines explain parameters.
type ExplainArgument struct {
	Path  string `json:"path" jsonschema:"Repository-relative file path"`
	All   bool   `json:"all,omitempty" jsonschema:"Return the full history instead of the latest entry"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of entries when all is set"`
}

// ExplainHandler handles the explain MCP tool.
type ExplainHandler struct {
	engine *query.Engine
}

// NewExplainHandler creates a new explain handler.
func NewExplainHandler(engine *query.Engine) *ExplainHandler {
	return &ExplainHandler{engine: engine}
}

// Handle returns the reasoning attached to a file.
func (h *ExplainHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ExplainArgument) (*mcp.CallToolResult, any, error) {
	p := domain.NormalizePath(args.Path)
	if p == "" {
		return errorResult("Path cannot be empty"), nil, nil
	}

	res, err := h.engine.Explain(p, query.ExplainOptions{All: args.All, Limit: args.Limit})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return textResult(fmt.Sprintf("No reasoning recorded for %s", p)), nil, nil
		}
		return errorResult("Failed to explain %s: %s", p, err), nil, nil
	}
	return rendered(func(r *render.Renderer) error {
		return r.Entries(res, fmt.Sprintf("No readable reasoning for %s", p))
	}), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ExplainHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lore_explain",
		Description: "Show the recorded reasoning for a file, newest first",
	}
}

// RegisterExplainTool registers the explain tool with an MCP server.
func RegisterExplainTool(server *mcp.Server, engine *query.Engine) {
	handler := NewExplainHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query  string `json:"query,omitempty" jsonschema:"Text to look for in intent, reasoning, agent, tags and alternatives"`
	File   string `json:"file,omitempty" jsonschema:"Only entries attached to this path"`
	Agent  string `json:"agent,omitempty" jsonschema:"Only entries whose agent contains this text"`
	Tag    string `json:"tag,omitempty" jsonschema:"Only entries carrying exactly this tag"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of results"`
	Ranked bool   `json:"ranked,omitempty" jsonschema:"Order by relevance using full-text scoring (filters are ignored)"`
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	engine *query.Engine
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(engine *query.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if args.Ranked {
		if strings.TrimSpace(args.Query) == "" {
			return errorResult("Query cannot be empty"), nil, nil
		}
		res, err := h.engine.RankedSearch(args.Query, args.Limit)
		if err != nil {
			return errorResult("Search failed: %s", err), nil, nil
		}
		return rendered(func(r *render.Renderer) error { return r.Ranked(res) }), nil, nil
	}

	res, err := h.engine.Search(args.Query, query.SearchOptions{
		File:  args.File,
		Agent: args.Agent,
		Tag:   args.Tag,
		Limit: args.Limit,
	})
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}
	return rendered(func(r *render.Renderer) error {
		return r.Entries(res, fmt.Sprintf("No results found for query: %s", args.Query))
	}), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lore_search",
		Description: "Search recorded reasoning by text, file, agent or tag",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, engine *query.Engine) {
	handler := NewSearchHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// ListArgument defines list parameters.
type ListArgument struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of entries"`
}

// ListHandler handles the list MCP tool.
type ListHandler struct {
	engine *query.Engine
}

// NewListHandler creates a new list handler.
func NewListHandler(engine *query.Engine) *ListHandler {
	return &ListHandler{engine: engine}
}

// Handle lists every readable entry, newest first.
func (h *ListHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ListArgument) (*mcp.CallToolResult, any, error) {
	res, err := h.engine.List(query.ListOptions{Limit: args.Limit})
	if err != nil {
		return errorResult("Failed to list entries: %s", err), nil, nil
	}
	return rendered(func(r *render.Renderer) error { return r.Entries(res, "No entries recorded yet.") }), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ListHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lore_list",
		Description: "List all recorded reasoning entries, newest first",
	}
}

// RegisterListTool registers the list tool with an MCP server.
func RegisterListTool(server *mcp.Server, engine *query.Engine) {
	handler := NewListHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// StatusArgument takes no parameters.
type StatusArgument struct{}

// StatusHandler handles the status MCP tool.
type StatusHandler struct {
	root   string
	engine *query.Engine
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(root string, engine *query.Engine) *StatusHandler {
	return &StatusHandler{root: root, engine: engine}
}

// Handle reports coverage of changed files.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	rep, err := h.engine.Status(ctx)
	if err != nil {
		return errorResult("Failed to compute status: %s", err), nil, nil
	}
	return rendered(func(r *render.Renderer) error { return r.Status(h.root, rep) }), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lore_status",
		Description: "Report which changed files have recorded reasoning and which do not",
	}
}

// RegisterStatusTool registers the status tool with an MCP server.
func RegisterStatusTool(server *mcp.Server, root string, engine *query.Engine) {
	handler := NewStatusHandler(root, engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
