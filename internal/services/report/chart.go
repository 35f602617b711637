package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/stockgen/internal/models"
)

// YearlyPoint is one year of the per-year financial rows, in absolute units.
type YearlyPoint struct {
	Year      int
	Revenue   float64
	NetProfit float64
	Ebitda    float64
}

// YearlyFinancials extracts the per-year rows of a report for the given years.
// Years with no revenue are skipped.
func YearlyFinancials(fields map[string]string, years []int) []YearlyPoint {
	var out []YearlyPoint
	for _, y := range years {
		rev, ok := parseAmount(fields[models.YearlyColumn("revenue", y)])
		if !ok {
			continue
		}
		np, _ := parseAmount(fields[models.YearlyColumn("netProfit", y)])
		eb, _ := parseAmount(fields[models.YearlyColumn("ebitda", y)])
		out = append(out, YearlyPoint{Year: y, Revenue: rev, NetProfit: np, Ebitda: eb})
	}
	return out
}

// parseAmount reads values such as "394.33B", "-12.5M", "1,204" or "$3.1T".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "$"), ",", ""))
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'T', 't':
		mult = 1e12
	case 'B', 'b':
		mult = 1e9
	case 'M', 'm':
		mult = 1e6
	case 'K', 'k':
		mult = 1e3
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

// RenderFinancialChart renders revenue, EBITDA and net profit per year as a PNG.
func RenderFinancialChart(title string, pts []YearlyPoint) ([]byte, error) {
	if len(pts) < 2 {
		return nil, fmt.Errorf("need at least 2 years of data, got %d", len(pts))
	}

	x := make([]float64, len(pts))
	rev := make([]float64, len(pts))
	np := make([]float64, len(pts))
	eb := make([]float64, len(pts))
	for i, p := range pts {
		x[i] = float64(p.Year)
		rev[i] = p.Revenue / 1e9
		np[i] = p.NetProfit / 1e9
		eb[i] = p.Ebitda / 1e9
	}

	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			Ticks: yearTicks(x),
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.1fB", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Revenue",
				Style:   chart.Style{StrokeColor: drawing.ColorFromHex("2563eb"), StrokeWidth: 2.5},
				XValues: x,
				YValues: rev,
			},
			chart.ContinuousSeries{
				Name:    "EBITDA",
				Style:   chart.Style{StrokeColor: drawing.ColorFromHex("9ca3af"), StrokeWidth: 1.5, StrokeDashArray: []float64{5.0, 3.0}},
				XValues: x,
				YValues: eb,
			},
			chart.ContinuousSeries{
				Name:    "Net Profit",
				Style:   chart.Style{StrokeColor: drawing.ColorFromHex("16a34a"), StrokeWidth: 2},
				XValues: x,
				YValues: np,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

func yearTicks(years []float64) []chart.Tick {
	ticks := make([]chart.Tick, len(years))
	for i, y := range years {
		ticks[i] = chart.Tick{Value: y, Label: strconv.Itoa(int(y))}
	}
	return ticks
}
