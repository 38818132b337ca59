package stats

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"pricewatch/internal/pattern"
)

// fakeStore is an in-memory Store with the atomic read-modify-write the
// tracker relies on.
type fakeStore struct {
	mu      sync.Mutex
	total   int64
	success int64
	err     error
}

func (f *fakeStore) UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pattern.Stats{}, f.err
	}
	f.total++
	if success {
		f.success++
	}
	return pattern.Stats{
		TotalAttempts:      f.total,
		SuccessfulAttempts: f.success,
		SuccessRate:        pattern.Rate(f.success, f.total),
	}, nil
}

// TestTracker_HealthTransitions verifies the health state follows the
// counters through the healthy/warning/failing bands.
func TestTracker_HealthTransitions(t *testing.T) {
	t.Parallel()

	tr := New(&fakeStore{})
	ctx := context.Background()

	// 4 successes: 4/4 = 1.0 -> HEALTHY.
	var health pattern.HealthState
	for i := 0; i < 4; i++ {
		var err error
		_, health, err = tr.Update(ctx, "example.com", true)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if health != pattern.Healthy {
		t.Fatalf("health = %s, want HEALTHY at 4/4", health)
	}

	// 1 failure: 4/5 = 0.8 stays HEALTHY (boundary is inclusive).
	_, health, err := tr.Update(ctx, "example.com", false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if health != pattern.Healthy {
		t.Fatalf("health = %s, want HEALTHY at exactly 0.80", health)
	}

	// Another failure: 4/6 ≈ 0.667 -> WARNING.
	if _, health, _ = tr.Update(ctx, "example.com", false); health != pattern.Warning {
		t.Fatalf("health = %s, want WARNING at 4/6", health)
	}

	// Two more failures: 4/8 = 0.5 -> FAILING.
	tr.Update(ctx, "example.com", false)
	if _, health, _ = tr.Update(ctx, "example.com", false); health != pattern.Failing {
		t.Fatalf("health = %s, want FAILING at 4/8", health)
	}
}

// TestTracker_ConcurrentUpdates verifies N concurrent attempts with k
// successes land at exactly t=N, s=k: outcomes are never lost or double
// counted as long as the store's update is atomic.
func TestTracker_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	tr := New(fs)
	ctx := context.Background()

	const successes, failures = 5, 2
	var wg sync.WaitGroup
	for i := 0; i < successes+failures; i++ {
		ok := i < successes
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := tr.Update(ctx, "example.com", ok); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := fs.UpdateStats(ctx, "example.com", true) // one more read-out attempt
	if err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	if s.TotalAttempts != successes+failures+1 || s.SuccessfulAttempts != successes+1 {
		t.Fatalf("counters = %d/%d, want %d/%d",
			s.SuccessfulAttempts, s.TotalAttempts, successes+1, successes+failures+1)
	}
	if math.Abs(pattern.Rate(successes, successes+failures)-5.0/7.0) > 1e-9 {
		t.Fatalf("rate = %v, want 5/7", pattern.Rate(successes, successes+failures))
	}
}

// TestTracker_StoreErrorWraps verifies a storage failure surfaces as a
// wrapped error carrying the domain, distinct from an extraction failure.
func TestTracker_StoreErrorWraps(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("connection refused")
	tr := New(&fakeStore{err: sentinel})

	_, _, err := tr.Update(context.Background(), "example.com", true)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}
