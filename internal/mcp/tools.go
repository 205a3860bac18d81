package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/healdb/heal/internal/history"
)

// registerTools registers the engine's MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("heal_health_report",
			mcp.WithDescription(
				"Get the latest schema health report: critical issues, warnings, "+
					"info-level findings, the last scan time, and overall status. "+
					"Use this first to see what the engine has detected.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleHealthReport,
	)

	srv.AddTool(
		mcp.NewTool("heal_trigger_scan",
			mcp.WithDescription(
				"Trigger a manual scan cycle. Returns immediately with an "+
					"acknowledgment; if a cycle is already pending the trigger "+
					"coalesces into it. Check heal_health_report afterwards for results.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleTriggerScan,
	)

	srv.AddTool(
		mcp.NewTool("heal_fix_issue",
			mcp.WithDescription(
				"Run a targeted fix for one issue from the latest health report. "+
					"The fix is planned and executed immediately, bypassing the "+
					"auto-fix allow-list but not the cooldown window.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("issue_id",
				mcp.Required(),
				mcp.Description("ID of the issue to fix, from heal_health_report"),
			),
		),
		s.handleFixIssue,
	)

	srv.AddTool(
		mcp.NewTool("heal_rollback_fix",
			mcp.WithDescription(
				"Reverse a previously applied fix from its backup. Rollback of a "+
					"rollback is rejected.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("fix_id",
				mcp.Required(),
				mcp.Description("ID of the fix record to reverse, from heal_list_history"),
			),
		),
		s.handleRollback,
	)

	srv.AddTool(
		mcp.NewTool("heal_list_history",
			mcp.WithDescription(
				"List fix records, newest first. Supports filtering by table and "+
					"by an RFC3339 'since' timestamp, plus limit/offset pagination.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("table",
				mcp.Description("Only records targeting this table"),
			),
			mcp.WithString("since",
				mcp.Description("Only records applied at or after this RFC3339 timestamp"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum records to return (default 25)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Records to skip for pagination"),
			),
		),
		s.handleListHistory,
	)
}

func (s *MCPServer) handleHealthReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.mon.Report())
}

func (s *MCPServer) handleTriggerScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accepted, coalesced := s.mon.Trigger()
	if !accepted {
		return mcp.NewToolResultError("monitor is stopped"), nil
	}
	return jsonResult(map[string]bool{"accepted": accepted, "coalesced": coalesced})
}

func (s *MCPServer) handleFixIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.mon.FixIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fix %s: %s", issueID, err)), nil
	}
	return jsonResult(rec)
}

func (s *MCPServer) handleRollback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fixID, err := request.RequireString("fix_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.mon.Rollback(ctx, fixID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rollback %s: %s", fixID, err)), nil
	}
	return jsonResult(rec)
}

func (s *MCPServer) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := history.Filter{
		Table:  request.GetString("table", ""),
		Limit:  request.GetInt("limit", 25),
		Offset: request.GetInt("offset", 0),
	}
	if since := request.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError("invalid since: expected RFC3339 timestamp"), nil
		}
		f.Since = t
	}

	records, err := s.mon.History(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list history: %s", err)), nil
	}
	return jsonResult(records)
}

// jsonResult marshals v as indented JSON into a text tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %s", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
