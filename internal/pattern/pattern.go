package pattern

// SelectorType identifies how a Selector's expression is evaluated against a
// page. The set is closed: patterns are pure data, and every type a pattern
// file may reference is handled explicitly by the extractor.
type SelectorType string

const (
	// StructuredQuery is a CSS-style element query (goquery).
	StructuredQuery SelectorType = "structured-query"
	// PathQuery is an XPath query against the parsed document.
	PathQuery SelectorType = "path-query"
	// StructuredDataPath descends a dot-separated path through an embedded
	// JSON-LD payload.
	StructuredDataPath SelectorType = "structured-data-path"
	// MetaLookup reads a named meta tag's content attribute.
	MetaLookup SelectorType = "meta-lookup"
)

// Valid reports whether t is one of the known selector types.
func (t SelectorType) Valid() bool {
	switch t {
	case StructuredQuery, PathQuery, StructuredDataPath, MetaLookup:
		return true
	}
	return false
}

// Selector is one candidate rule for locating a field's value.
//
// Confidence is author-declared reliability in [0,1]. It is never recomputed
// from observed outcomes; only the pattern-level success rate is empirical.
type Selector struct {
	Type       SelectorType `json:"type"`
	Expression string       `json:"expression"`
	Attribute  string       `json:"attribute,omitempty"` // read this attribute instead of text
	Confidence float64      `json:"confidence"`
}

// FieldPattern is a primary selector plus an ordered fallback chain.
// Order is significant and never re-ranked at runtime.
type FieldPattern struct {
	Primary   Selector   `json:"primary"`
	Fallbacks []Selector `json:"fallbacks,omitempty"`
}

// Chain returns the primary selector followed by the fallbacks, in the order
// they must be tried.
func (f FieldPattern) Chain() []Selector {
	out := make([]Selector, 0, len(f.Fallbacks)+1)
	out = append(out, f.Primary)
	out = append(out, f.Fallbacks...)
	return out
}

// Pattern is a per-domain bundle of field extraction rules plus empirical
// reliability counters.
//
// Patterns are created and amended only by the external authoring workflow.
// During extraction they are read-only; the counters are mutated solely via
// the repository's stats-update path.
type Pattern struct {
	Domain             string                  `json:"domain"`
	Fields             map[string]FieldPattern `json:"fields"`
	TotalAttempts      int64                   `json:"total_attempts"`
	SuccessfulAttempts int64                   `json:"successful_attempts"`
	SuccessRate        float64                 `json:"success_rate"`
}

// Stats is the counter triple maintained per pattern.
type Stats struct {
	TotalAttempts      int64   `json:"total_attempts"`
	SuccessfulAttempts int64   `json:"successful_attempts"`
	SuccessRate        float64 `json:"success_rate"`
}

// Rate computes successes/total, guarding divide-by-zero to 0.
func Rate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total)
}

// HealthState classifies a pattern's empirical reliability.
type HealthState string

const (
	Unproven HealthState = "UNPROVEN" // no attempts yet
	Healthy  HealthState = "HEALTHY"  // success rate >= 0.80
	Warning  HealthState = "WARNING"  // 0.60 <= rate < 0.80
	Failing  HealthState = "FAILING"  // rate < 0.60
)

const (
	healthyRate = 0.80
	warningRate = 0.60
)

// Health derives the health state from the current counters. It is purely a
// function of the counters: no decay, no attempt cap, no implicit reset.
func Health(p *Pattern) HealthState {
	if p.TotalAttempts == 0 {
		return Unproven
	}
	rate := Rate(p.SuccessfulAttempts, p.TotalAttempts)
	switch {
	case rate >= healthyRate:
		return Healthy
	case rate >= warningRate:
		return Warning
	default:
		return Failing
	}
}
