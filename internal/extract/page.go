// Package extract applies a domain pattern's selector chains to a fetched
// page and produces normalized field values.
//
// The extractor is a pure transformation: it performs no I/O, never mutates
// the pattern, and contains every selector-level fault at that selector's
// boundary. A malformed expression or a broken embedded payload is a miss
// that drives the fallback chain, never an error that escapes extraction.
package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Page is a parsed product page. The HTML is parsed exactly once; the same
// node tree serves CSS queries (goquery), XPath queries (htmlquery), and the
// structured-data scan.
type Page struct {
	doc  *goquery.Document
	root *html.Node

	sdOnce sync.Once
	sdDocs []any
}

// Parse reads and parses HTML from r.
func Parse(r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: goquery.NewDocumentFromNode(root), root: root}, nil
}

// ParseString parses an in-memory HTML document.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// structuredData returns the parsed JSON documents from the page's
// <script type="application/ld+json"> blocks, in document order.
//
// Malformed blocks are skipped: one broken payload must not hide a valid one
// later in the page. The scan runs once per page and is cached.
func (p *Page) structuredData() []any {
	p.sdOnce.Do(func() {
		p.doc.Find(`script`).Each(func(_ int, s *goquery.Selection) {
			typ, _ := s.Attr("type")
			if !strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
				return
			}
			var doc any
			if err := json.Unmarshal([]byte(s.Text()), &doc); err != nil {
				return
			}
			p.sdDocs = append(p.sdDocs, doc)
		})
	})
	return p.sdDocs
}
