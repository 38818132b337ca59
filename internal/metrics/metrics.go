// Package metrics defines the minimal observability contract the extraction
// pipeline emits against. The pipeline depends only on Backend; concrete
// exporters live in subpackages.
package metrics

// Labels tag a metric sample (e.g. {"domain": "example.com", "status": "valid"}).
type Labels map[string]string

// Backend receives pipeline metrics. Implementations must be safe for
// concurrent use by pipeline workers.
type Backend interface {
	// IncCounter adds delta to a named counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a named distribution.
	ObserveHistogram(name string, value float64, labels Labels)

	// SetGauge records the current value of a named gauge.
	SetGauge(name string, value float64, labels Labels)

	// Flush submits buffered metrics. Returns nil when there is nothing to
	// submit.
	Flush() error

	// Close stops any background flushing and performs one final Flush.
	Close() error
}

// Metric names emitted by the pipeline.
const (
	// AttemptsTotal counts extraction attempts, labeled domain + status
	// (valid, invalid, error).
	AttemptsTotal = "pricewatch_attempts_total"

	// ExtractDuration is the per-attempt wall time in seconds, labeled domain.
	ExtractDuration = "pricewatch_extract_duration_seconds"

	// PatternSuccessRate is the pattern's rolling success rate after the
	// attempt, labeled domain.
	PatternSuccessRate = "pricewatch_pattern_success_rate"
)

// Noop discards all metrics. Used when no exporter is configured.
type Noop struct{}

func (Noop) IncCounter(string, float64, Labels)       {}
func (Noop) ObserveHistogram(string, float64, Labels) {}
func (Noop) SetGauge(string, float64, Labels)         {}
func (Noop) Flush() error                             { return nil }
func (Noop) Close() error                             { return nil }

var _ Backend = Noop{}
