// Command pattern-probe applies every selector of a pattern to a page,
// ignoring the first-match-wins rule, and reports which candidates still hit.
// Pattern authors use it to diagnose a pattern after a site redesign.
//
// Usage (stdin):
//
//	cat page.html | pattern-probe -pattern patterns/example.com.json
//
// Usage (fetch URL, JSON output):
//
//	pattern-probe -url "https://example.com/p/123" -pattern patterns/example.com.json -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/pattern"
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

// run returns a Unix-style exit code: 0 success, 2 usage errors, 1 runtime
// errors.
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("pattern-probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	patternPath := fs.String("pattern", "", "Path to domain pattern JSON file (required)")
	urlFlag := fs.String("url", "", "Optional: fetch HTML from URL instead of stdin")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	asJSON := fs.Bool("json", false, "Emit the report as JSON instead of lines")

	if err := fs.Parse(args); err != nil {
		return 2
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

	loader := fetch.NewLoader(httpClient, *timeout)
	html, err := loader.Load(ctx, fetch.Input{
		URL:   *urlFlag,
		Stdin: stdin,
	})
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	page, err := extract.ParseString(html)
	if err != nil {
		fmt.Fprintf(stderr, "parse html: %v\n", err)
		return 1
	}

	reports := extract.Probe(page, pat)
	health := pattern.Health(pat)
	rate := pattern.Rate(pat.SuccessfulAttempts, pat.TotalAttempts)

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		out := struct {
			Domain    string                  `json:"domain"`
			Health    pattern.HealthState     `json:"health"`
			Rate      float64                 `json:"success_rate"`
			Attempts  int64                   `json:"total_attempts"`
			Selectors []extract.SelectorReport `json:"selectors"`
		}{pat.Domain, health, rate, pat.TotalAttempts, reports}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "domain=%s health=%s rate=%.3f attempts=%d\n",
		pat.Domain, health, rate, pat.TotalAttempts)
	extract.WriteProbeReport(stdout, reports)
	return 0
}
