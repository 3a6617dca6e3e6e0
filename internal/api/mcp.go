package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/whatson/internal/chat"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/intent"
	"github.com/kalambet/whatson/internal/search"
	"github.com/kalambet/whatson/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Search   *search.Executor
	Parser   *intent.Parser
	Location *time.Location // date-only arguments are read here; defaults to time.Local
	Clock    func() time.Time
}

func (d MCPDeps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d MCPDeps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

// NewMCPServer creates an MCP server exposing event search to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"whatson",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("whatson: search upcoming local events by date, category, price and place."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(chat.SearchToolName,
			mcp.WithDescription("Search upcoming local events. All filters are optional and combined with AND."),
			mcp.WithString("q", mcp.Description("Free-text words matched against title, description, venue and tags")),
			mcp.WithString("category", mcp.Description("Event category"), mcp.Enum(event.Categories...)),
			mcp.WithString("venue", mcp.Description("Venue name or part of it")),
			mcp.WithString("location", mcp.Description("City, district or neighborhood")),
			mcp.WithString("start_date", mcp.Description("Earliest start, YYYY-MM-DD or RFC3339")),
			mcp.WithString("end_date", mcp.Description("Latest start, YYYY-MM-DD (inclusive) or RFC3339")),
			mcp.WithNumber("price_max", mcp.Description("Maximum ticket price in dollars; 0 means free")),
			mcp.WithBoolean("outdoor", mcp.Description("Only outdoor (true) or indoor (false) events")),
			mcp.WithBoolean("family_friendly", mcp.Description("Only family-friendly events")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 10)")),
		),
		mcpSearchEvents(deps),
	)

	s.AddTool(
		mcp.NewTool("get_event",
			mcp.WithDescription("Fetch one event by its identifier."),
			mcp.WithString("id", mcp.Description("Event identifier"), mcp.Required()),
		),
		mcpGetEvent(deps),
	)

	s.AddTool(
		mcp.NewTool("parse_query",
			mcp.WithDescription("Show how a free-text question is read as a search filter, without running it."),
			mcp.WithString("query", mcp.Description("Free-text event question, e.g. \"jazz this weekend under $20\""), mcp.Required()),
		),
		mcpParseQuery(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"whatson://categories",
			"Event Categories",
			mcp.WithResourceDescription("The fixed category enumeration accepted by search_events"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(),
	)

	s.AddResource(
		mcp.NewResource(
			"whatson://review",
			"Review Queue",
			mcp.WithResourceDescription("Up to 50 low-confidence events waiting for review"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceReview(deps),
	)

	return s
}

func mcpSearchEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read arguments: %v", err)), nil
		}

		in, err := chat.IntentFromArgs(raw, deps.location())
		if err != nil {
			return mcpError(err.Error()), nil
		}

		events, err := deps.Search.Search(ctx, in, "mcp")
		if errors.Is(err, search.ErrInvalidIntent) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			slog.Warn("mcp search degraded to no results", "error", err)
			events = []event.Event{}
		}

		b, err := json.Marshal(events)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		e, err := deps.Store.GetEvent(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("event %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get event: %v", err)), nil
		}

		b, err := json.Marshal(e)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal event: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpParseQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		in := deps.Parser.Parse(ctx, query, deps.now().In(deps.location()))
		b, err := json.Marshal(in)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal intent: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCategories() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(event.Categories)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
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

func mcpResourceReview(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		flagged := true
		events, err := deps.Store.QueryEvents(ctx, storage.EventQuery{NeedsReview: &flagged, Limit: 50})
		if err != nil {
			return nil, fmt.Errorf("failed to list flagged events: %w", err)
		}

		type reviewItem struct {
			ID         string  `json:"id"`
			Title      string  `json:"title"`
			Source     string  `json:"source"`
			StartTime  string  `json:"start_time"`
			Confidence float64 `json:"confidence"`
		}

		items := make([]reviewItem, len(events))
		for i, e := range events {
			items[i] = reviewItem{
				ID:         e.ID,
				Title:      e.Title,
				Source:     e.SourceName,
				StartTime:  e.StartTime.Format(time.RFC3339),
				Confidence: e.Confidence,
			}
		}

		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal review queue: %w", err)
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
