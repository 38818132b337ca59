package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

const testPattern = `{
  "domain": "example.com",
  "fields": {
    "price": {
      "primary": {"type": "structured-query", "expression": "span.price", "confidence": 0.9}
    },
    "title": {
      "primary": {"type": "structured-query", "expression": "h1.title", "confidence": 0.9}
    }
  }
}`

func writePattern(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "example.com.json")
	if err := os.WriteFile(path, []byte(testPattern), 0o600); err != nil {
		t.Fatalf("write pattern: %v", err)
	}
	return path
}

// TestRun_StdinExtraction verifies the "stdin + pattern" happy path.
//
// We test via run() (not main()) so the test is fast, deterministic, and
// does not require an OS-level subprocess.
func TestRun_StdinExtraction(t *testing.T) {
	t.Parallel()

	stdin := bytes.NewBufferString(
		`<html><body><h1 class="title">Widget</h1><span class="price">1 990,50 kr</span></body></html>`)
	var stdout, stderr bytes.Buffer

	code := run(
		context.Background(),
		[]string{"-pattern", writePattern(t)},
		stdin,
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	var got output
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not valid json: %v; out=%s", err, stdout.String())
	}
	if got.Extraction.Field("price").Value != "1990.50" {
		t.Fatalf("price = %q", got.Extraction.Field("price").Value)
	}
	if !got.Validation.Valid || got.Validation.Confidence != 0.9 {
		t.Fatalf("validation = %+v", got.Validation)
	}
}

// TestRun_DebugSelectorText verifies debug selector mode prints text (not
// JSON). This protects the interactive pattern-authoring workflow.
func TestRun_DebugSelectorText(t *testing.T) {
	t.Parallel()

	stdin := bytes.NewBufferString(`<div id="x">  A  </div><div id="x">B</div>`)
	var stdout, stderr bytes.Buffer

	code := run(
		context.Background(),
		[]string{"-selector", "div#x", "-text"},
		stdin,
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if out := stdout.String(); out != "A\n\nB\n\n" {
		t.Fatalf("unexpected debug output: %q", out)
	}
}

// TestRun_DebugSelectorTypes verifies debug mode reaches the non-CSS selector
// types via -type, and rejects an unknown type as a usage error.
func TestRun_DebugSelectorTypes(t *testing.T) {
	t.Parallel()

	const page = `<head><meta property="og:price:amount" content="249.00"></head>` +
		`<body><span class="price" data-amount="99.90">99,90 kr</span></body>`

	t.Run("meta lookup", func(t *testing.T) {
		t.Parallel()

		var stdout, stderr bytes.Buffer
		code := run(
			context.Background(),
			[]string{"-selector", "og:price:amount", "-type", "meta-lookup"},
			bytes.NewBufferString(page),
			&stdout,
			&stderr,
			http.DefaultClient,
		)
		if code != 0 {
			t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
		}
		if out := stdout.String(); out != "249.00\n\n" {
			t.Fatalf("unexpected debug output: %q", out)
		}
	})

	t.Run("path query attribute", func(t *testing.T) {
		t.Parallel()

		var stdout, stderr bytes.Buffer
		code := run(
			context.Background(),
			[]string{"-selector", "//span[@class='price']", "-type", "path-query", "-attr", "data-amount"},
			bytes.NewBufferString(page),
			&stdout,
			&stderr,
			http.DefaultClient,
		)
		if code != 0 {
			t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
		}
		if out := stdout.String(); out != "99.90\n\n" {
			t.Fatalf("unexpected debug output: %q", out)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()

		var stdout, stderr bytes.Buffer
		code := run(
			context.Background(),
			[]string{"-selector", "span", "-type", "css"},
			bytes.NewBufferString(page),
			&stdout,
			&stderr,
			http.DefaultClient,
		)
		if code != 2 {
			t.Fatalf("run returned %d, want 2; stderr=%s", code, stderr.String())
		}
	})
}

// TestRun_DirMode verifies directory mode emits a single JSON array with one
// entry per readable file, in filename order, skipping unreadable input.
func TestRun_DirMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pages := map[string]string{
		"a.html": `<span class="price">100 kr</span>`,
		"b.html": `<span class="price">200 kr</span>`,
	}
	for name, html := range pages {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(html), 0o600); err != nil {
			t.Fatalf("write page: %v", err)
		}
	}

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-pattern", writePattern(t), "-dir", dir},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	var got []output
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not a json array: %v; out=%s", err, stdout.String())
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].SourceFile != "a.html" || got[1].SourceFile != "b.html" {
		t.Fatalf("order = %q, %q; want filename order", got[0].SourceFile, got[1].SourceFile)
	}
	if got[1].Extraction.Field("price").Value != "200.00" {
		t.Fatalf("b.html price = %q", got[1].Extraction.Field("price").Value)
	}
}

// TestRun_UsageErrors verifies missing/invalid flags exit with code 2.
func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, bytes.NewBuffer(nil), &stdout, &stderr, http.DefaultClient); code != 2 {
		t.Fatalf("missing -pattern: code = %d, want 2", code)
	}
	if code := run(context.Background(), []string{"-pattern", "does-not-exist.json"},
		bytes.NewBuffer(nil), &stdout, &stderr, http.DefaultClient); code != 2 {
		t.Fatalf("bad pattern path: code = %d, want 2", code)
	}
}
