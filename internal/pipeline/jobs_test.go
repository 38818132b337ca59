package pipeline

import (
	"context"
	"strings"
	"testing"

	"pricewatch/internal/extract"
)

func collectJobs(t *testing.T, input string) ([]Job, error) {
	t.Helper()

	out := make(chan Job, 64)
	err := StreamJobs(context.Background(), strings.NewReader(input), out)
	close(out)

	var jobs []Job
	for j := range out {
		jobs = append(jobs, j)
	}
	return jobs, err
}

// TestStreamJobs verifies element-by-element decoding of a jobs array.
func TestStreamJobs(t *testing.T) {
	t.Parallel()

	jobs, err := collectJobs(t, `[
		{"domain": "a.com", "url": "https://a.com/p/1"},
		{"url": "https://b.com/p/2"},
		{"domain": "c.com", "file": "pages/c.html"}
	]`)
	if err != nil {
		t.Fatalf("StreamJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	if jobs[1].URL != "https://b.com/p/2" || jobs[2].File != "pages/c.html" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

// TestStreamJobs_Errors verifies a jobs file is treated as operator input:
// a malformed or incomplete entry aborts the stream with a positioned error.
func TestStreamJobs_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		errPart string
		jobs    int
	}{
		{"not an array", `{"domain": "a.com"}`, "expected a JSON array", 0},
		{"broken element", `[{"domain": "a.com"}, {bad]`, "element 1", 1},
		{"missing source", `[{"file": "x.html"}]`, "needs domain or url", 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			jobs, err := collectJobs(t, tc.input)
			if err == nil || !strings.Contains(err.Error(), tc.errPart) {
				t.Fatalf("err = %v, want %q", err, tc.errPart)
			}
			if len(jobs) != tc.jobs {
				t.Fatalf("delivered %d jobs before abort, want %d", len(jobs), tc.jobs)
			}
		})
	}
}

// TestStreamJobs_EmptyInput verifies an empty reader streams nothing and
// reports no error, matching an empty batch.
func TestStreamJobs_EmptyInput(t *testing.T) {
	t.Parallel()

	jobs, err := collectJobs(t, "")
	if err != nil || len(jobs) != 0 {
		t.Fatalf("jobs=%d err=%v, want 0 and nil", len(jobs), err)
	}
}

// TestRecordHash verifies hash determinism, absent-field skipping, and that
// distinct values produce distinct hashes.
func TestRecordHash(t *testing.T) {
	t.Parallel()

	a := extract.ResultFromValues("example.com", map[string]string{
		"price": "1990.00", "title": "Widget",
	})
	b := extract.ResultFromValues("example.com", map[string]string{
		"title": "Widget", "price": "1990.00",
	})
	if recordHash(a) != recordHash(b) {
		t.Fatal("hash must not depend on map iteration order")
	}
	if len(recordHash(a)) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(recordHash(a)))
	}

	c := extract.ResultFromValues("example.com", map[string]string{
		"price": "1790.00", "title": "Widget",
	})
	if recordHash(a) == recordHash(c) {
		t.Fatal("different values must hash differently")
	}

	// Absent field vs no field at all: same hash.
	d := extract.ResultFromValues("example.com", map[string]string{
		"price": "1990.00", "title": "Widget", "sku": "",
	})
	if recordHash(a) != recordHash(d) {
		t.Fatal("absent fields must not contribute to the hash")
	}
}
