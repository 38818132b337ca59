// Package stats maintains the rolling attempt/success counters that make up
// a pattern's health signal.
package stats

import (
	"context"
	"fmt"

	"pricewatch/internal/pattern"
)

// Store is the slice of the repository the tracker needs. The repository's
// UpdateStats must be an atomic read-modify-write; the tracker adds no
// locking of its own.
type Store interface {
	UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error)
}

// Tracker records one validation outcome per extraction attempt.
type Tracker struct {
	store Store
}

func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// Update increments the pattern's counters and returns the new counters plus
// the derived health state.
//
// A returned error is a storage failure: retryable infrastructure trouble,
// distinct from (and never caused by) an extraction or validation failure.
func (t *Tracker) Update(ctx context.Context, domain string, success bool) (pattern.Stats, pattern.HealthState, error) {
	s, err := t.store.UpdateStats(ctx, domain, success)
	if err != nil {
		return pattern.Stats{}, "", fmt.Errorf("record attempt for %s: %w", domain, err)
	}

	health := pattern.Health(&pattern.Pattern{
		TotalAttempts:      s.TotalAttempts,
		SuccessfulAttempts: s.SuccessfulAttempts,
	})
	return s, health, nil
}
