package app

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/report"
)

var groupTitles = map[models.Group]string{
	models.GroupOverview:        "Company Overview",
	models.GroupMetrics:         "Key Metrics",
	models.GroupFinancialHealth: "Financial Health",
	models.GroupStrengths:       "Strengths & Catalysts",
	models.GroupAnalystHealth:   "Analyst Health",
	models.GroupRisks:           "Risks & Mitigation",
	models.GroupConclusion:      "Conclusion",
}

// formatViewState formats an open report as markdown
func formatViewState(state report.ViewState) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s (%s)\n\n", state.Name, state.Ticker))
	sb.WriteString(fmt.Sprintf("**Session:** %s\n", state.SessionID))
	sb.WriteString(fmt.Sprintf("**Report Key:** %s\n", state.Key))
	sb.WriteString(fmt.Sprintf("**Generation Budget:** %d of %d calls used\n", state.Budget.Used, state.Budget.Limit))
	if len(state.Dirty) > 0 {
		sb.WriteString(fmt.Sprintf("**Unsaved:** %s\n", strings.Join(state.Dirty, ", ")))
	}
	sb.WriteString("\n")

	for _, g := range state.Groups {
		title := groupTitles[g.Group]
		if title == "" {
			title = string(g.Group)
		}
		sb.WriteString(fmt.Sprintf("## %s [%s]\n\n", title, g.State))

		if len(g.Fields) == 0 {
			sb.WriteString("_No fields resolved yet._\n\n")
			continue
		}
		for _, f := range g.Fields {
			formatField(&sb, f)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatSharedReport formats a read-only stored report as markdown
func formatSharedReport(shared *report.SharedReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s (%s)\n\n", shared.Name, shared.Ticker))
	sb.WriteString(fmt.Sprintf("**Report Key:** %s\n", shared.Key))
	if !shared.UpdatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Updated:** %s\n", shared.UpdatedAt.Format("2006-01-02 15:04")))
	}
	sb.WriteString("_Read only._\n\n")

	for _, g := range shared.Groups {
		title := groupTitles[g.Group]
		if title == "" {
			title = string(g.Group)
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", title))
		for _, f := range g.Fields {
			formatField(&sb, f)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatField(sb *strings.Builder, f models.ResolvedValue) {
	if !f.Available() {
		if f.Value != "" {
			sb.WriteString(fmt.Sprintf("- **%s:** %s (commentary unavailable)\n", f.Label, f.Value))
		} else {
			sb.WriteString(fmt.Sprintf("- **%s:** unavailable\n", f.Label))
		}
		return
	}

	if len(f.Points) > 0 {
		sb.WriteString(fmt.Sprintf("**%s** _(%s)_\n\n", f.Label, f.Tier))
		for i, p := range f.Points {
			sb.WriteString(fmt.Sprintf("%d. **%s:** %s\n", i+1, p.Title, p.Body))
			if p.Mitigation != "" {
				sb.WriteString(fmt.Sprintf("   - Mitigation: %s\n", p.Mitigation))
			}
		}
		sb.WriteString("\n")
		return
	}

	switch {
	case f.Description != "" && f.Value != "":
		sb.WriteString(fmt.Sprintf("- **%s:** %s. %s _(%s)_\n", f.Label, f.Value, f.Description, f.Tier))
	case f.Description != "":
		sb.WriteString(fmt.Sprintf("- **%s:** %s _(%s)_\n", f.Label, f.Description, f.Tier))
	default:
		sb.WriteString(fmt.Sprintf("- **%s:** %s _(%s)_\n", f.Label, f.Value, f.Tier))
	}
}

// formatReportList formats an owner's saved reports as markdown
func formatReportList(owner string, list []models.ReportSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Saved Reports: %s\n\n", owner))
	if len(list) == 0 {
		sb.WriteString("No saved reports.\n")
		return sb.String()
	}
	sb.WriteString("| Ticker | Name | Key | Updated |\n")
	sb.WriteString("|--------|------|-----|---------|\n")
	for _, r := range list {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			r.Ticker, r.Name, r.Key, r.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return sb.String()
}
