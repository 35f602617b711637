package report

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/points"
)

// SharedReport is the read-only form of a stored report, as shown on a share
// link. Nothing in it is generated.
type SharedReport struct {
	Key       string      `json:"key"`
	Ticker    string      `json:"ticker"`
	Name      string      `json:"name"`
	Owner     string      `json:"owner,omitempty"`
	Groups    []GroupView `json:"groups"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SharedReport reads owner's saved report for ticker merged over the default
// report. An empty owner reads the default report alone. ErrNotFound is
// returned when neither row exists.
func (s *Service) SharedReport(ctx context.Context, owner, ticker string) (*SharedReport, error) {
	if owner != "" && !common.ValidViewerID(owner) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidViewer, owner)
	}
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, models.ErrInvalidTicker
	}

	def, err := s.load(ctx, models.ReportKey("", ticker))
	if err != nil {
		return nil, err
	}
	var override *models.Report
	if owner != "" {
		if override, err = s.load(ctx, models.ReportKey(owner, ticker)); err != nil {
			return nil, err
		}
	}
	if def == nil && override == nil {
		return nil, fmt.Errorf("%w: no stored report for %s", models.ErrNotFound, models.ReportKey(owner, ticker))
	}

	merged := &models.Report{Key: ticker, Ticker: ticker}
	for _, r := range []*models.Report{def, override} {
		if r == nil {
			continue
		}
		merged.Merge(r.Fields)
		merged.Key = r.Key
		if r.Name != "" {
			merged.Name = r.Name
		}
		if r.UpdatedAt.After(merged.UpdatedAt) {
			merged.UpdatedAt = r.UpdatedAt
		}
	}
	if merged.Name == "" {
		merged.Name = ticker
	}

	out := &SharedReport{
		Key:       merged.Key,
		Ticker:    ticker,
		Name:      merged.Name,
		Owner:     owner,
		UpdatedAt: merged.UpdatedAt,
	}
	for _, group := range models.Groups() {
		gv := GroupView{Group: group, State: StateResolved, Fields: []models.ResolvedValue{}}
		for _, spec := range models.FieldsInGroup(group) {
			gv.Fields = append(gv.Fields, storedValue(spec, merged, override))
		}
		out.Groups = append(out.Groups, gv)
	}
	return out, nil
}

// storedValue renders one field from stored columns only.
func storedValue(spec models.FieldSpec, merged, override *models.Report) models.ResolvedValue {
	rv := models.ResolvedValue{Field: spec.Name, Label: spec.Label, Tier: models.TierUnavailable}
	text, ok := merged.Get(spec.Column())
	if spec.Kind == models.KindMetric {
		rv.Value, _ = merged.Get(spec.Name)
	}
	if !ok {
		return rv
	}

	rv.Tier = models.TierDefault
	if _, mine := override.Get(spec.Column()); mine {
		rv.Tier = models.TierOverride
	}
	switch spec.Kind {
	case models.KindMetric:
		rv.Description = text
	case models.KindPointList:
		rv.Value = text
		rv.Points, _ = points.DecodeAll(text, spec.Variant)
	default:
		rv.Value = text
	}
	return rv
}
