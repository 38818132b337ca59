package pattern

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile loads and validates a JSON pattern file.
func LoadFile(path string) (*Pattern, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	var p Pattern
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse pattern json: %w", err)
	}

	if err := Check(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Check validates a pattern's structure. It is applied both to files loaded
// from disk and to records deserialized from the repository, so a malformed
// authored pattern is rejected before it can reach the extractor.
func Check(p *Pattern) error {
	if p.Domain == "" {
		return fmt.Errorf("pattern has no domain")
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("pattern %s has no fields", p.Domain)
	}
	if p.SuccessfulAttempts > p.TotalAttempts {
		return fmt.Errorf("pattern %s: successful_attempts %d exceeds total_attempts %d",
			p.Domain, p.SuccessfulAttempts, p.TotalAttempts)
	}
	for name, fp := range p.Fields {
		for i, sel := range fp.Chain() {
			if err := checkSelector(sel); err != nil {
				return fmt.Errorf("pattern %s field %q selector %d: %w", p.Domain, name, i, err)
			}
		}
	}
	return nil
}

func checkSelector(s Selector) error {
	if !s.Type.Valid() {
		return fmt.Errorf("unknown selector type %q", s.Type)
	}
	if s.Expression == "" {
		return fmt.Errorf("empty expression")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", s.Confidence)
	}
	return nil
}
