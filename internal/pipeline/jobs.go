package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Job is one page to fetch and extract. URL and File are alternative page
// sources; Domain may be omitted when it can be derived from the URL.
type Job struct {
	Domain string `json:"domain,omitempty"`
	URL    string `json:"url,omitempty"`
	File   string `json:"file,omitempty"`
}

// StreamJobs decodes a JSON array of Job objects from r and sends them to
// out one by one, without buffering the whole file.
//
// Malformed elements abort the stream: a jobs file is operator input, so a
// broken entry is a configuration error rather than dirty page data.
func StreamJobs(ctx context.Context, r io.Reader, out chan<- Job) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("jobs: read first token: %w", err)
	}
	if tok != json.Delim('[') {
		return fmt.Errorf("jobs: expected a JSON array, got %v", tok)
	}

	n := 0
	for dec.More() {
		var j Job
		if err := dec.Decode(&j); err != nil {
			return fmt.Errorf("jobs: element %d: %w", n, err)
		}
		if j.Domain == "" && j.URL == "" {
			return fmt.Errorf("jobs: element %d: needs domain or url", n)
		}
		n++

		select {
		case out <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if end, err := dec.Token(); err != nil {
		return fmt.Errorf("jobs: read array end: %w", err)
	} else if end != json.Delim(']') {
		return fmt.Errorf("jobs: expected array end ']', got %v", end)
	}
	return nil
}
