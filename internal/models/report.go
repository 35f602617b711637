// Package models defines data structures for stockgen
package models

import (
	"maps"
	"strings"
	"time"
)

// Report is one row of the reports table. The default report for a ticker is
// keyed by the bare ticker; a viewer's override is keyed "{owner}-{ticker}".
// Fields holds every report column by name and may be partial.
type Report struct {
	Key       string            `json:"key" badgerhold:"key"`
	Ticker    string            `json:"ticker" badgerhold:"index"`
	Name      string            `json:"name"`
	Owner     string            `json:"owner" badgerhold:"index"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ReportKey forms the identity of a report. An empty owner yields the default key.
func ReportKey(owner, ticker string) string {
	ticker = NormalizeTicker(ticker)
	if owner == "" {
		return ticker
	}
	return owner + "-" + ticker
}

// DisplayName recovers the display portion of a report key: everything after the first '-'.
// A key without '-' is returned unchanged.
func DisplayName(key string) string {
	if _, after, ok := strings.Cut(key, "-"); ok {
		return after
	}
	return key
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Get returns a column value; unset and empty columns both report false.
func (r *Report) Get(field string) (string, bool) {
	if r == nil || r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[field]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = maps.Clone(r.Fields)
	if out.Fields == nil {
		out.Fields = make(map[string]string)
	}
	return &out
}

// Merge copies the columns of patch over r, leaving other columns intact.
func (r *Report) Merge(patch map[string]string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		r.Fields[k] = v
	}
}

// ReportSummary is a row of an owner's report listing.
type ReportSummary struct {
	Key       string    `json:"key"`
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Point is one bullet of a point-list field. Mitigation is only meaningful for risk lists.
type Point struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Mitigation string `json:"mitigation,omitempty"`
}

// PointPart names the part of a Point a patch replaces.
type PointPart string

const (
	PartTitle      PointPart = "title"
	PartBody       PointPart = "body"
	PartMitigation PointPart = "mitigation"
)

// Valid reports whether p is one of the known parts.
func (p PointPart) Valid() bool {
	switch p {
	case PartTitle, PartBody, PartMitigation:
		return true
	}
	return false
}

// Tier records where a resolved value came from.
type Tier string

const (
	TierOverride    Tier = "override"
	TierDefault     Tier = "default"
	TierSeed        Tier = "seed"
	TierGenerated   Tier = "generated"
	TierUnavailable Tier = "unavailable"
)

// ResolvedValue is the outcome of resolving one field for a viewer.
// For metrics Value is the seed number and Description the commentary;
// for prose and point-list fields Value carries the text.
type ResolvedValue struct {
	Field       string  `json:"field"`
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	Description string  `json:"description,omitempty"`
	Tier        Tier    `json:"tier"`
	Points      []Point `json:"points,omitempty"`
}

// Available reports whether the field resolved to usable content.
func (v ResolvedValue) Available() bool {
	return v.Tier != TierUnavailable
}

// Image is a pasted or imported picture cached per ticker, independent of reports.
type Image struct {
	Ticker      string    `json:"ticker" badgerhold:"key"`
	DataURI     string    `json:"data_uri"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
