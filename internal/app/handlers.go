package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/report"
)

// defaultWaitSeconds bounds how long get_report blocks on resolution.
const defaultWaitSeconds = 60

// handleGetVersion implements the get_version tool
func handleGetVersion() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := fmt.Sprintf("stockgen MCP Server\nVersion: %s\nBuild: %s\nCommit: %s\nStatus: OK",
			common.GetVersion(), common.GetBuild(), common.GetGitCommit())
		return textResult(result), nil
	}
}

// handleGetReport implements the get_report tool
func handleGetReport(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker, err := request.RequireString("ticker")
		if err != nil || strings.TrimSpace(ticker) == "" {
			return errorResult("Error: ticker parameter is required"), nil
		}

		sessionID := request.GetString("session_id", "")
		if sessionID == "" {
			sess, err := svc.CreateSession(request.GetString("viewer", ""))
			if err != nil {
				return errorResult(fmt.Sprintf("Session error: %v", err)), nil
			}
			sessionID = sess.ID
		}

		seed := report.Seed{
			Name:   request.GetString("name", ""),
			Fields: seedArgument(request.GetArguments()["seed"]),
		}
		view, err := svc.OpenView(ctx, sessionID, ticker, seed)
		if err != nil {
			logger.Error().Err(err).Str("ticker", ticker).Msg("Open report failed")
			return errorResult(fmt.Sprintf("Report error: %v", err)), nil
		}

		if wait := request.GetInt("wait_seconds", defaultWaitSeconds); wait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, time.Duration(wait)*time.Second)
			err := view.Wait(waitCtx)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Str("ticker", ticker).Msg("Returning partially resolved report")
			}
		}

		return textResult(formatViewState(view.State())), nil
	}
}

// handleEditField implements the edit_field tool
func handleEditField(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, errResult := requireView(svc, request)
		if errResult != nil {
			return errResult, nil
		}
		field, err := request.RequireString("field")
		if err != nil || field == "" {
			return errorResult("Error: field parameter is required"), nil
		}
		value, err := request.RequireString("value")
		if err != nil {
			return errorResult("Error: value parameter is required"), nil
		}

		if err := view.Edit(field, value); err != nil {
			return errorResult(fmt.Sprintf("Edit error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Edited %s of %s. Unsaved columns: %s",
			field, view.Ticker(), strings.Join(view.Cache().Dirty(), ", "))), nil
	}
}

// handlePatchPoint implements the patch_point tool
func handlePatchPoint(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, errResult := requireView(svc, request)
		if errResult != nil {
			return errResult, nil
		}
		field, err := request.RequireString("field")
		if err != nil || field == "" {
			return errorResult("Error: field parameter is required"), nil
		}
		index, err := request.RequireInt("index")
		if err != nil {
			return errorResult("Error: index parameter is required"), nil
		}
		part, err := request.RequireString("part")
		if err != nil {
			return errorResult("Error: part parameter is required"), nil
		}
		text, err := request.RequireString("text")
		if err != nil {
			return errorResult("Error: text parameter is required"), nil
		}

		encoded, err := view.PatchPoint(ctx, field, index, models.PointPart(part), text)
		if err != nil {
			logger.Warn().Err(err).Str("ticker", view.Ticker()).Str("field", field).Msg("Point patch failed")
			return errorResult(fmt.Sprintf("Patch error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Patched %s #%d of %s:\n\n%s", field, index, view.Ticker(), encoded)), nil
	}
}

// handleSaveReport implements the save_report tool
func handleSaveReport(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, errResult := requireView(svc, request)
		if errResult != nil {
			return errResult, nil
		}
		saved, err := view.Save(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("Save error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Saved %s (%d columns)", saved.Key, len(saved.Fields))), nil
	}
}

// handleListReports implements the list_reports tool
func handleListReports(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := request.RequireString("owner")
		if err != nil || owner == "" {
			return errorResult("Error: owner parameter is required"), nil
		}
		list, err := svc.ListOwnerReports(ctx, owner)
		if err != nil {
			logger.Error().Err(err).Str("owner", owner).Msg("List reports failed")
			return errorResult(fmt.Sprintf("List error: %v", err)), nil
		}
		return textResult(formatReportList(owner, list)), nil
	}
}

// handleGetSharedReport implements the get_shared_report tool
func handleGetSharedReport(svc *report.Service, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker, err := request.RequireString("ticker")
		if err != nil || ticker == "" {
			return errorResult("Error: ticker parameter is required"), nil
		}
		owner := request.GetString("owner", "")
		shared, err := svc.SharedReport(ctx, owner, ticker)
		if err != nil {
			logger.Warn().Err(err).Str("ticker", ticker).Str("owner", owner).Msg("Shared report read failed")
			return errorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return textResult(formatSharedReport(shared)), nil
	}
}

// requireView resolves the session_id and ticker arguments to an open view.
func requireView(svc *report.Service, request mcp.CallToolRequest) (*report.View, *mcp.CallToolResult) {
	sessionID, err := request.RequireString("session_id")
	if err != nil || sessionID == "" {
		return nil, errorResult("Error: session_id parameter is required")
	}
	ticker, err := request.RequireString("ticker")
	if err != nil || ticker == "" {
		return nil, errorResult("Error: ticker parameter is required")
	}
	view, err := svc.View(sessionID, ticker)
	if err != nil {
		return nil, errorResult(fmt.Sprintf("Error: %v. Call get_report first.", err))
	}
	return view, nil
}

// seedArgument converts a JSON object argument into a column map.
func seedArgument(raw any) map[string]string {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// Helper functions

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}
