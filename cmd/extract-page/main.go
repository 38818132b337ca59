// Command extract-page reads HTML (from stdin, a URL, or a directory of
// files), applies a domain pattern, validates the result, and prints JSON.
//
// Usage (stdin):
//
//	cat page.html | extract-page -pattern patterns/example.com.json
//
// Usage (fetch URL):
//
//	extract-page -url "https://example.com/p/123" -pattern patterns/example.com.json
//
// Usage (directory mode):
//
//	extract-page -dir "./pages" -pattern patterns/example.com.json
//
// Debug (print outer HTML blocks):
//
//	cat page.html | extract-page -selector "div.product"
//
// Debug (print text for selector matches):
//
//	cat page.html | extract-page -selector ".price" -text
//
// Debug works for every selector type a pattern may use:
//
//	cat page.html | extract-page -selector "//span[@class='price']" -type path-query -attr data-amount
//	cat page.html | extract-page -selector "og:price:amount" -type meta-lookup
//	cat page.html | extract-page -selector "offers.price" -type structured-data-path
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/pattern"
	"pricewatch/internal/validate"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// output is one page's extraction plus its validation verdict.
type output struct {
	Extraction *extract.Result `json:"extraction"`
	Validation validate.Result `json:"validation"`
	SourceFile string          `json:"source_file,omitempty"`
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("extract-page", flag.ContinueOnError)
	fs.SetOutput(stderr)

	onlyText := fs.Bool("text", false, "Debug: print text blocks for -selector matches (not JSON)")
	debugSelector := fs.String("selector", "", "Debug: selector expression to print all matches for (not JSON)")
	debugType := fs.String("type", string(pattern.StructuredQuery),
		"Debug: selector type for -selector (structured-query, path-query, structured-data-path, meta-lookup)")
	debugAttr := fs.String("attr", "", "Debug: print this attribute of each -selector match instead of its content")
	patternPath := fs.String("pattern", "", "Path to domain pattern JSON file (required for extraction)")
	urlFlag := fs.String("url", "", "Optional: fetch HTML from URL instead of stdin")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	dirFlag := fs.String("dir", "", "Optional: directory containing HTML files (one result per file)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	loader := fetch.NewLoader(httpClient, *timeout)

	// Debug selector mode needs HTML input (stdin or url) but NOT a pattern.
	if *debugSelector != "" {
		sel := pattern.Selector{
			Type:       pattern.SelectorType(*debugType),
			Expression: *debugSelector,
			Attribute:  *debugAttr,
		}
		if !sel.Type.Valid() {
			fmt.Fprintf(stderr, "unknown -type %q\n", *debugType)
			return 2
		}

		html, err := loader.Load(ctx, fetch.Input{
			URL:   *urlFlag,
			Stdin: stdin,
		})
		if err != nil {
			fmt.Fprintf(stderr, "load html: %v\n", err)
			return 1
		}

		if err := extract.DebugPrintSelector(stdout, html, sel, *onlyText); err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		return 0
	}

	if *patternPath == "" {
		fmt.Fprintf(stderr, "missing -pattern\n")
		return 2
	}

	pat, err := pattern.LoadFile(*patternPath)
	if err != nil {
		fmt.Fprintf(stderr, "load pattern: %v\n", err)
		return 2
	}

	validator := validate.New(validate.DefaultConfig())
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	// Directory mode: stream output as a single JSON array.
	if *dirFlag != "" {
		if err := streamFromDir(stdout, *dirFlag, pat, validator, enc); err != nil {
			fmt.Fprintf(stderr, "dir extract: %v\n", err)
			return 1
		}
		return 0
	}

	// Single input mode: stdin OR -url.
	html, err := loader.Load(ctx, fetch.Input{
		URL:   *urlFlag,
		Stdin: stdin,
	})
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	out, err := extractOne(html, pat, validator)
	if err != nil {
		fmt.Fprintf(stderr, "extract: %v\n", err)
		return 1
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

func extractOne(html string, pat *pattern.Pattern, validator *validate.Validator) (output, error) {
	page, err := extract.ParseString(html)
	if err != nil {
		return output{}, err
	}
	res := extract.Extract(page, pat)
	return output{
		Extraction: res,
		Validation: validator.Validate(res, nil),
	}, nil
}

// streamFromDir emits a single JSON array with one result per readable HTML
// file, in stable filename order. Unreadable or unparseable files are
// skipped so one bad capture cannot abort a long batch.
func streamFromDir(w io.Writer, dir string, pat *pattern.Pattern, validator *validate.Validator, enc *json.Encoder) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("write [: %w", err)
	}

	first := true
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}

		out, err := extractOne(string(b), pat, validator)
		if err != nil {
			continue
		}
		out.SourceFile = e.Name()

		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return fmt.Errorf("write comma: %w", err)
			}
		}
		first = false
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("write ]: %w", err)
	}
	return nil
}
