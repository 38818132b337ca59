package extract

import (
	"fmt"
	"io"

	"pricewatch/internal/pattern"
)

// SelectorReport is the diagnostic outcome of one selector applied in
// isolation, independent of fallback short-circuiting.
type SelectorReport struct {
	Field      string               `json:"field"`
	Position   int                  `json:"position"` // 0 = primary, 1.. = fallback order
	Type       pattern.SelectorType `json:"type"`
	Expression string               `json:"expression"`
	Confidence float64              `json:"confidence"`
	Matched    bool                 `json:"matched"`
	Raw        string               `json:"raw,omitempty"`
	Normalized string               `json:"normalized,omitempty"`
}

// Probe applies every selector of every field to the page, ignoring the
// first-match-wins rule. Pattern authors use this to see which candidate
// rules still hit after a site redesign.
func Probe(page *Page, pat *pattern.Pattern) []SelectorReport {
	var out []SelectorReport
	for name, fp := range pat.Fields {
		for i, sel := range fp.Chain() {
			rep := SelectorReport{
				Field:      name,
				Position:   i,
				Type:       sel.Type,
				Expression: sel.Expression,
				Confidence: sel.Confidence,
			}
			if raw, ok := evalSelector(page, sel); ok {
				rep.Matched = true
				rep.Raw = raw
				scratch := &Result{}
				if v, ok := normalizeField(name, raw, scratch); ok {
					rep.Normalized = v
				}
			}
			out = append(out, rep)
		}
	}
	return out
}

// WriteProbeReport prints reports one line per selector, in the shape
// "field=price pos=0 type=structured-query matched=true value=1990.00".
// This is the probe command's human-readable mode.
func WriteProbeReport(w io.Writer, reports []SelectorReport) {
	for _, r := range reports {
		fmt.Fprintf(w, "field=%s pos=%d type=%s expr=%q matched=%t",
			r.Field, r.Position, r.Type, r.Expression, r.Matched)
		if r.Matched {
			fmt.Fprintf(w, " raw=%q value=%q", r.Raw, r.Normalized)
		}
		fmt.Fprintln(w)
	}
}
