package models

import (
	"fmt"
	"strings"
)

// FieldKind says how a field's value is obtained.
type FieldKind int

const (
	// KindScalar is seed data only and is never generated.
	KindScalar FieldKind = iota
	// KindMetric carries a seed number plus generated commentary in "{name}Dsc".
	KindMetric
	// KindProse is free text generated into the field itself.
	KindProse
	// KindPointList is a numbered bullet list serialised into one column.
	KindPointList
)

func (k FieldKind) String() string {
	switch k {
	case KindMetric:
		return "metric"
	case KindProse:
		return "prose"
	case KindPointList:
		return "point_list"
	default:
		return "scalar"
	}
}

// ListVariant selects the point-list dialect.
type ListVariant int

const (
	ListStrengths ListVariant = iota
	ListRisks
)

// Group is one of the independently loading report sections.
type Group string

const (
	GroupOverview        Group = "overview"
	GroupMetrics         Group = "metrics"
	GroupFinancialHealth Group = "financialHealth"
	GroupStrengths       Group = "strengths"
	GroupAnalystHealth   Group = "analystHealth"
	GroupRisks           Group = "risks"
	GroupConclusion      Group = "conclusion"
)

// Groups returns the report sections in display order.
func Groups() []Group {
	return []Group{
		GroupOverview,
		GroupMetrics,
		GroupFinancialHealth,
		GroupStrengths,
		GroupAnalystHealth,
		GroupRisks,
		GroupConclusion,
	}
}

// Prompt placeholders.
const (
	PromptName   = "{name}"
	PromptLabel  = "{label}"
	PromptReport = "{report}"
)

const (
	metricPrompt  = "Summarize {label} of {name} in less than 20 words without specifying numbers."
	summaryPrompt = "summary of {label} of {name} in 20-30 words without the numbers"
)

// FieldSpec describes one logical report field.
type FieldSpec struct {
	Name    string
	Label   string
	Kind    FieldKind
	Group   Group
	Variant ListVariant
	Prompt  string
}

// Column is the report column resolution reads and writes back:
// "{name}Dsc" for metrics, the field itself otherwise.
func (f FieldSpec) Column() string {
	if f.Kind == KindMetric {
		return DescriptionColumn(f.Name)
	}
	return f.Name
}

// Generatable reports whether a miss on every stored tier may be filled by generation.
func (f FieldSpec) Generatable() bool {
	return f.Kind != KindScalar && f.Prompt != ""
}

// RenderPrompt fills the name and label placeholders. The report placeholder
// is left for the caller.
func (f FieldSpec) RenderPrompt(companyName string) string {
	r := strings.NewReplacer(PromptName, companyName, PromptLabel, f.Label)
	return r.Replace(f.Prompt)
}

// DescriptionColumn names the paired commentary column of a metric.
func DescriptionColumn(field string) string {
	return field + "Dsc"
}

var catalog = []FieldSpec{
	{Name: "description", Label: "Company Overview", Kind: KindProse, Group: GroupOverview,
		Prompt: "Give {name} company's description in 50-70 words"},
	{Name: "oneYearPrice", Label: "One Year Price", Kind: KindProse, Group: GroupOverview,
		Prompt: "Summarize the share price movement of {name} over the last year in 30-50 words"},

	{Name: "marketCap", Label: "Market Cap", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},
	{Name: "sharesOutstanding", Label: "Shares Outstanding", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},
	{Name: "float", Label: "Shares Float", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},
	{Name: "evEbitda", Label: "EV/EBITDA", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},
	{Name: "peTtm", Label: "P/E", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},
	{Name: "dividendRate", Label: "Dividend Rate", Kind: KindMetric, Group: GroupMetrics, Prompt: metricPrompt},

	{Name: "cashPosition", Label: "Cash Position", Kind: KindMetric, Group: GroupFinancialHealth, Prompt: summaryPrompt},
	{Name: "totalDebt", Label: "Total Debt", Kind: KindMetric, Group: GroupFinancialHealth, Prompt: summaryPrompt},
	{Name: "debtToEquity", Label: "Debt to Equity", Kind: KindMetric, Group: GroupFinancialHealth, Prompt: summaryPrompt},
	{Name: "currentRatio", Label: "Current Ratio", Kind: KindMetric, Group: GroupFinancialHealth, Prompt: summaryPrompt},

	{Name: "strengthsAndCatalysts", Label: "Strengths & Catalysts", Kind: KindPointList, Group: GroupStrengths,
		Variant: ListStrengths,
		Prompt:  "Give me growth catalysts of {name} stock, give me 6 points, with headings, and description not more than 40 words"},

	{Name: "analystRating", Label: "Analyst Rating (1-5)", Kind: KindMetric, Group: GroupAnalystHealth, Prompt: summaryPrompt},
	{Name: "numberOfAnalysts", Label: "Number of Analysts", Kind: KindMetric, Group: GroupAnalystHealth, Prompt: summaryPrompt},
	{Name: "meanTargetPrice", Label: "Mean Target Price", Kind: KindMetric, Group: GroupAnalystHealth, Prompt: summaryPrompt},
	{Name: "impliedChange", Label: "Implied +/-", Kind: KindMetric, Group: GroupAnalystHealth, Prompt: summaryPrompt},
	{Name: "recommendation", Label: "Recommendation", Kind: KindScalar, Group: GroupAnalystHealth},

	{Name: "risksAndMitigation", Label: "Risks & Mitigation", Kind: KindPointList, Group: GroupRisks,
		Variant: ListRisks,
		Prompt:  "Give me 6 Risks with explanation and also their mitigations respectively of {name} stock with headings and description of not more than 20 words for each"},

	{Name: "conclusion", Label: "Conclusion", Kind: KindProse, Group: GroupConclusion,
		Prompt: "With this info {report} give a 70-100 words conclusion which include should we buy it or not?."},
}

var catalogIndex = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(catalog))
	for _, f := range catalog {
		m[f.Name] = f
	}
	return m
}()

// FieldCatalog returns every field spec in display order.
func FieldCatalog() []FieldSpec {
	out := make([]FieldSpec, len(catalog))
	copy(out, catalog)
	return out
}

// LookupField finds a field spec by name.
func LookupField(name string) (FieldSpec, bool) {
	f, ok := catalogIndex[name]
	return f, ok
}

// FieldsInGroup returns the specs of one section in display order.
func FieldsInGroup(g Group) []FieldSpec {
	var out []FieldSpec
	for _, f := range catalog {
		if f.Group == g {
			out = append(out, f)
		}
	}
	return out
}

// PointListFields returns the specs serialised as numbered lists.
func PointListFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range catalog {
		if f.Kind == KindPointList {
			out = append(out, f)
		}
	}
	return out
}

// YearlySeries are the per-year financial rows, stored as "{series}{YY}".
var YearlySeries = []string{"revenue", "ebit", "netProfit", "ebitda", "roi"}

// YearlyColumn names the column of one series for a calendar year.
func YearlyColumn(series string, year int) string {
	return fmt.Sprintf("%s%02d", series, year%100)
}

// IsYearlyColumn reports whether name is "{series}{YY}" for a known series.
func IsYearlyColumn(name string) bool {
	for _, s := range YearlySeries {
		suffix, ok := strings.CutPrefix(name, s)
		if !ok || len(suffix) != 2 {
			continue
		}
		if suffix[0] >= '0' && suffix[0] <= '9' && suffix[1] >= '0' && suffix[1] <= '9' {
			return true
		}
	}
	return false
}

// ImageColumns are blanked before a report is embedded in a prompt.
var ImageColumns = []string{"url1", "url2"}

// KnownColumn reports whether name is a report column a viewer may write:
// a catalog field, a metric's description column, a yearly row or an image column.
func KnownColumn(name string) bool {
	if _, ok := catalogIndex[name]; ok {
		return true
	}
	if base, ok := strings.CutSuffix(name, "Dsc"); ok {
		if f, ok := catalogIndex[base]; ok && f.Kind == KindMetric {
			return true
		}
	}
	for _, c := range ImageColumns {
		if c == name {
			return true
		}
	}
	return IsYearlyColumn(name)
}
