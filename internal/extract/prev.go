package extract

import "pricewatch/internal/pattern"

// storedMethod marks fields replayed from persisted history rather than
// resolved by a live selector. It only exists so Absent() is false for them;
// replayed results are inputs to anomaly comparison, never to confidence
// scoring.
const storedMethod pattern.SelectorType = "stored"

// ResultFromValues builds a Result from already-normalized field values,
// e.g. the last persisted extraction replayed for anomaly comparison.
// Empty values are treated as absent fields.
func ResultFromValues(domain string, values map[string]string) *Result {
	res := &Result{
		Domain: domain,
		Fields: make(map[string]Field, len(values)),
	}
	for name, v := range values {
		if v == "" {
			continue
		}
		res.Fields[name] = Field{Value: v, Method: storedMethod}
	}
	return res
}
