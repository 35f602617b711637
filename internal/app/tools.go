package app

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createGetVersionTool returns the get_version tool definition
func createGetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the stockgen server version and status. Use this to verify connectivity."),
	)
}

// createGetReportTool returns the get_report tool definition
func createGetReportTool() mcp.Tool {
	return mcp.NewTool("get_report",
		mcp.WithDescription("Open a company research report and return its sections. Fields are read from the viewer's saved report, then the shared default report, then the seed data, and only generated when all of those are empty. Reuse the returned session_id for follow-up calls so nothing is generated twice."),
		mcp.WithString("ticker",
			mcp.Required(),
			mcp.Description("Stock ticker (e.g., 'AAPL', 'BHP')"),
		),
		mcp.WithString("session_id",
			mcp.Description("Existing session id. Omit to start a new session."),
		),
		mcp.WithString("viewer",
			mcp.Description("Viewer id owning saved edits. Omit for the shared default report. Only used when starting a session."),
		),
		mcp.WithString("name",
			mcp.Description("Company display name used in prompts (e.g., 'Apple Inc')"),
		),
		mcp.WithObject("seed",
			mcp.Description("Live market data row keyed by report column (e.g., {\"marketCap\": \"3.1T\", \"revenue24\": \"391B\"})"),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("Seconds to wait for all sections to resolve (default: 60, 0 returns immediately)"),
		),
	)
}

// createEditFieldTool returns the edit_field tool definition
func createEditFieldTool() mcp.Tool {
	return mcp.NewTool("edit_field",
		mcp.WithDescription("Overwrite one column of an open report. The edit is held in the session until save_report is called."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id returned by get_report"),
		),
		mcp.WithString("ticker",
			mcp.Required(),
			mcp.Description("Ticker of the open report"),
		),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Report column (e.g., 'description', 'marketCapDsc', 'conclusion')"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("New column text"),
		),
	)
}

// createPatchPointTool returns the patch_point tool definition
func createPatchPointTool() mcp.Tool {
	return mcp.NewTool("patch_point",
		mcp.WithDescription("Replace the title, body, or mitigation of one numbered bullet in 'strengthsAndCatalysts' or 'risksAndMitigation'. The patched column is persisted immediately."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id returned by get_report"),
		),
		mcp.WithString("ticker",
			mcp.Required(),
			mcp.Description("Ticker of the open report"),
		),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Point-list field: strengthsAndCatalysts or risksAndMitigation"),
		),
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Bullet number, starting at 1"),
		),
		mcp.WithString("part",
			mcp.Required(),
			mcp.Enum("title", "body", "mitigation"),
			mcp.Description("Part of the bullet to replace (mitigation applies to risks only)"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Replacement text"),
		),
	)
}

// createSaveReportTool returns the save_report tool definition
func createSaveReportTool() mcp.Tool {
	return mcp.NewTool("save_report",
		mcp.WithDescription("Persist the pending edits of an open report to the viewer's saved report."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id returned by get_report"),
		),
		mcp.WithString("ticker",
			mcp.Required(),
			mcp.Description("Ticker of the open report"),
		),
	)
}

// createListReportsTool returns the list_reports tool definition
func createListReportsTool() mcp.Tool {
	return mcp.NewTool("list_reports",
		mcp.WithDescription("List the reports a viewer has saved, most recently updated first."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Viewer id"),
		),
	)
}

// createGetSharedReportTool returns the get_shared_report tool definition
func createGetSharedReportTool() mcp.Tool {
	return mcp.NewTool("get_shared_report",
		mcp.WithDescription("Read a stored report without opening a session. Shows the owner's saved report over the shared default report. Nothing is generated, so sections never stored read as unavailable."),
		mcp.WithString("ticker",
			mcp.Required(),
			mcp.Description("Stock ticker (e.g., 'AAPL', 'BHP')"),
		),
		mcp.WithString("owner",
			mcp.Description("Viewer whose saved report to show. Omit for the default report."),
		),
	)
}
