package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"

	"pricewatch/internal/normalize"
	"pricewatch/internal/pattern"
)

// Field is one extracted field: the normalized value, the selector type that
// produced it, and that selector's author-declared confidence.
//
// A field that never resolved is the zero Field: empty method, confidence 0.
type Field struct {
	Value      string               `json:"value,omitempty"`
	Method     pattern.SelectorType `json:"method,omitempty"`
	Confidence float64              `json:"confidence"`
}

// Absent reports whether no selector in the field's chain resolved.
func (f Field) Absent() bool { return f.Method == "" }

// Result is the outcome of applying one pattern to one page.
type Result struct {
	Domain   string           `json:"domain"`
	Fields   map[string]Field `json:"fields"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Field returns the named field's result; absent fields return a zero Field.
func (r *Result) Field(name string) Field {
	return r.Fields[name]
}

// Extract applies every field chain of pat to page.
//
// Per field: the primary selector is tried first, then each fallback strictly
// in declared order. The first non-empty match wins and the remaining
// fallbacks are skipped, even if they might also succeed. Candidates are
// never compared by confidence. If nothing matches, the field is absent.
func Extract(page *Page, pat *pattern.Pattern) *Result {
	res := &Result{
		Domain: pat.Domain,
		Fields: make(map[string]Field, len(pat.Fields)),
	}

	for name, fp := range pat.Fields {
		res.Fields[name] = extractField(page, name, fp, res)
	}
	return res
}

func extractField(page *Page, name string, fp pattern.FieldPattern, res *Result) Field {
	for _, sel := range fp.Chain() {
		raw, ok := evalSelector(page, sel)
		if !ok {
			continue
		}
		val, ok := normalizeField(name, raw, res)
		if !ok {
			// Whitespace-only match: treat as empty and keep falling back.
			continue
		}
		return Field{Value: val, Method: sel.Type, Confidence: sel.Confidence}
	}
	return Field{}
}

// normalizeField canonicalizes a raw selector match for the named field.
//
// Price-like fields normalize to a two-decimal amount. When the match is
// non-empty text that fails numeric parsing, the cleaned text is kept so the
// validator can reject it as malformed rather than missing.
func normalizeField(name, raw string, res *Result) (string, bool) {
	txt, ok := normalize.CleanText(raw)
	if !ok {
		return "", false
	}

	if isPriceField(name) {
		if v, ok := normalize.CleanPriceString(raw); ok {
			return v, true
		}
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("field %q: matched value %q is not a parseable price", name, txt))
		return txt, true
	}

	if name == "currency" {
		if v, ok := normalize.CleanCurrency(raw); ok {
			return v, true
		}
		return txt, true
	}

	return txt, true
}

func isPriceField(name string) bool {
	return name == "price" || strings.HasSuffix(name, "_price")
}

// evalSelector applies a single selector to the page.
//
// The returned ok is false for any miss, including evaluation faults: the
// recover below converts library panics (e.g. cascadia on a malformed CSS
// expression) into a plain miss so a bad selector can never abort the field
// or the extraction.
func evalSelector(page *Page, sel pattern.Selector) (val string, ok bool) {
	defer func() {
		if recover() != nil {
			val, ok = "", false
		}
	}()

	switch sel.Type {
	case pattern.StructuredQuery:
		return evalStructuredQuery(page, sel)
	case pattern.PathQuery:
		return evalPathQuery(page, sel)
	case pattern.StructuredDataPath:
		return evalStructuredDataPath(page, sel)
	case pattern.MetaLookup:
		return evalMetaLookup(page, sel)
	}
	return "", false
}

func evalStructuredQuery(page *Page, sel pattern.Selector) (string, bool) {
	s := page.doc.Find(sel.Expression).First()
	if s.Length() == 0 {
		return "", false
	}
	return selectionValue(s, sel.Attribute)
}

func evalPathQuery(page *Page, sel pattern.Selector) (string, bool) {
	expr, err := xpath.Compile(sel.Expression)
	if err != nil {
		return "", false
	}
	node := htmlquery.QuerySelector(page.root, expr)
	if node == nil {
		return "", false
	}
	if sel.Attribute != "" {
		v := htmlquery.SelectAttr(node, sel.Attribute)
		return v, v != ""
	}
	return htmlquery.InnerText(node), true
}

func evalStructuredDataPath(page *Page, sel pattern.Selector) (string, bool) {
	for _, doc := range page.structuredData() {
		v, ok := normalize.ResolvePath(doc, sel.Expression)
		if !ok {
			continue
		}
		if s, ok := normalize.Leaf(v); ok {
			return s, true
		}
	}
	return "", false
}

func evalMetaLookup(page *Page, sel pattern.Selector) (string, bool) {
	var content string
	var found bool
	page.doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prop, _ := s.Attr("property")
		name, _ := s.Attr("name")
		if prop != sel.Expression && name != sel.Expression {
			return true
		}
		if c, ok := s.Attr("content"); ok {
			content, found = c, true
			return false
		}
		return true
	})
	return content, found
}

// selectionValue reads an attribute when one is named, the element's visible
// text otherwise.
func selectionValue(s *goquery.Selection, attr string) (string, bool) {
	if attr != "" {
		v, ok := s.Attr(attr)
		if !ok {
			return "", false
		}
		return v, v != ""
	}
	return s.Text(), true
}
