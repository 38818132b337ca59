package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"

	"pricewatch/internal/normalize"
	"pricewatch/internal/pattern"
)

// DebugPrintSelector prints every candidate a single selector matches on a
// page, one block per candidate with a blank line after each. Pattern
// authors use it to see the full match set for an expression they are
// considering; Extract only ever takes the first match.
//
// textOnly switches structured-query and path-query output from the
// candidate's outer HTML to its trimmed text. Attribute, structured-data and
// meta candidates are plain values and print as-is.
func DebugPrintSelector(w io.Writer, html string, sel pattern.Selector, textOnly bool) error {
	if !sel.Type.Valid() {
		return fmt.Errorf("unknown selector type %q", sel.Type)
	}

	page, err := ParseString(html)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	switch sel.Type {
	case pattern.StructuredQuery:
		page.doc.Find(sel.Expression).Each(func(_ int, s *goquery.Selection) {
			if sel.Attribute != "" {
				if v, ok := s.Attr(sel.Attribute); ok {
					printCandidate(w, v)
				}
				return
			}
			if textOnly {
				printCandidate(w, strings.TrimSpace(s.Text()))
				return
			}
			out, err := goquery.OuterHtml(s)
			if err != nil {
				out, _ = s.Html()
			}
			printCandidate(w, out)
		})

	case pattern.PathQuery:
		expr, err := xpath.Compile(sel.Expression)
		if err != nil {
			return fmt.Errorf("compile expression: %w", err)
		}
		for _, node := range htmlquery.QuerySelectorAll(page.root, expr) {
			switch {
			case sel.Attribute != "":
				if v := htmlquery.SelectAttr(node, sel.Attribute); v != "" {
					printCandidate(w, v)
				}
			case textOnly:
				printCandidate(w, strings.TrimSpace(htmlquery.InnerText(node)))
			default:
				printCandidate(w, htmlquery.OutputHTML(node, true))
			}
		}

	case pattern.StructuredDataPath:
		for _, doc := range page.structuredData() {
			v, ok := normalize.ResolvePath(doc, sel.Expression)
			if !ok {
				continue
			}
			if s, ok := normalize.Leaf(v); ok {
				printCandidate(w, s)
			}
		}

	case pattern.MetaLookup:
		page.doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
			prop, _ := s.Attr("property")
			name, _ := s.Attr("name")
			if prop != sel.Expression && name != sel.Expression {
				return
			}
			if c, ok := s.Attr("content"); ok {
				printCandidate(w, c)
			}
		})
	}
	return nil
}

func printCandidate(w io.Writer, v string) {
	fmt.Fprintln(w, v)
	fmt.Fprintln(w)
}
