// Package points converts numbered bullet lists to and from their single-column
// text form. The same grammar serves the strengths list and the risk list; the
// risk dialect additionally splits each body at a "Mitigation:" marker.
//
//	<entry> ::= <index> ". " <title> ":" <body> "\n"
package points

import (
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/bobmcallan/stockgen/internal/models"
)

const (
	// MitigationMarker splits a risk body into risk and mitigation segments.
	MitigationMarker = "Mitigation:"
	// NotProvided is the mitigation of a risk entry without a marker.
	NotProvided = "Not provided"
)

var (
	// An index starts the text or follows whitespace, optionally behind
	// markdown emphasis or heading characters, so lists written on one line
	// split too. A decimal such as "3.5%" is not an index.
	indexPattern   = regexp.MustCompile(`(?:^|\s)[ \t*#]*\d+\.\s+`)
	newlinePattern = regexp.MustCompile(`\s*\n\s*`)
)

// Decode lazily parses text into points. Text before the first index is
// discarded and entries without a title or body are skipped. The returned
// sequence can be ranged over any number of times.
func Decode(text string, variant models.ListVariant) iter.Seq[models.Point] {
	return func(yield func(models.Point) bool) {
		rest := text
		loc := indexPattern.FindStringIndex(rest)
		for loc != nil {
			rest = rest[loc[1]:]
			next := indexPattern.FindStringIndex(rest)
			chunk := rest
			if next != nil {
				chunk = rest[:next[0]]
			}
			if p, ok := parseEntry(chunk, variant); ok {
				if !yield(p) {
					return
				}
			}
			loc = next
		}
	}
}

// DecodeAll materialises Decode. Non-blank text that yields no point returns
// an empty slice together with ErrMalformedPointList.
func DecodeAll(text string, variant models.ListVariant) ([]models.Point, error) {
	var out []models.Point
	for p := range Decode(text, variant) {
		out = append(out, p)
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		return []models.Point{}, models.ErrMalformedPointList
	}
	return out, nil
}

func parseEntry(chunk string, variant models.ListVariant) (models.Point, bool) {
	chunk = strings.ReplaceAll(chunk, "**", "")
	title, rest, ok := strings.Cut(chunk, ":")
	if !ok {
		return models.Point{}, false
	}
	title = strings.TrimSpace(strings.Trim(collapse(title), "*# \t"))
	rest = collapse(rest)

	p := models.Point{Title: title}
	switch variant {
	case models.ListRisks:
		risk, mitigation, found := strings.Cut(rest, MitigationMarker)
		p.Body = strings.TrimSpace(risk)
		p.Mitigation = strings.TrimSpace(mitigation)
		if !found || p.Mitigation == "" {
			p.Mitigation = NotProvided
		}
	default:
		p.Body = strings.TrimSpace(strings.TrimSuffix(rest, "."))
	}

	if p.Title == "" || p.Body == "" {
		return models.Point{}, false
	}
	return p, true
}

// Encode serialises points, renumbering from 1 in slice order. Entries without
// a title or body are left out so the output always decodes cleanly.
func Encode(pts []models.Point, variant models.ListVariant) string {
	var b strings.Builder
	n := 0
	for _, p := range pts {
		title, body := collapse(p.Title), collapse(p.Body)
		if title == "" || body == "" {
			continue
		}
		n++
		switch variant {
		case models.ListRisks:
			mitigation := collapse(p.Mitigation)
			if mitigation == "" {
				fmt.Fprintf(&b, "%d. %s: %s\n", n, title, body)
			} else {
				fmt.Fprintf(&b, "%d. %s: %s %s %s\n", n, title, body, MitigationMarker, mitigation)
			}
		default:
			fmt.Fprintf(&b, "%d. %s: %s.\n", n, title, body)
		}
	}
	return b.String()
}

// Normalize re-encodes text through a decode so indices are contiguous and
// every entry sits on its own line.
func Normalize(text string, variant models.ListVariant) string {
	var pts []models.Point
	for p := range Decode(text, variant) {
		pts = append(pts, p)
	}
	return Encode(pts, variant)
}

// ContainsIndex reports whether s holds a substring Decode would treat as the
// start of a new entry.
func ContainsIndex(s string) bool {
	return indexPattern.MatchString(" " + s)
}

func collapse(s string) string {
	return strings.TrimSpace(newlinePattern.ReplaceAllString(s, " "))
}
