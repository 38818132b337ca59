// Package storage defines the backend-agnostic persistence contract for
// patterns and price history.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the extraction pipeline needs. Each backend implements the
// semantics in its own idiomatic way (Postgres SELECT ... FOR UPDATE, SQLite
// UPDATE ... RETURNING, MSSQL UPDLOCK).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricewatch/internal/pattern"
)

// ErrNotFound is returned when no pattern exists for the requested domain.
var ErrNotFound = errors.New("storage: pattern not found")

// Config is the minimal configuration needed to create a repository.
type Config struct {
	// Kind selects a registered backend: "postgres", "sqlite", "mssql".
	Kind string `json:"kind"`
	// DSN is passed through to the backend factory; validation is
	// backend-specific.
	DSN string `json:"dsn"`
}

// HistoryRecord is one observed price point, appended after a valid
// extraction.
type HistoryRecord struct {
	Domain       string    `json:"domain"`
	URL          string    `json:"url,omitempty"`
	Price        string    `json:"price"` // canonical two-decimal amount
	Currency     string    `json:"currency,omitempty"`
	Title        string    `json:"title,omitempty"`
	Availability string    `json:"availability,omitempty"`
	SKU          string    `json:"sku,omitempty"`
	Model        string    `json:"model,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Confidence   float64   `json:"confidence"`
	RecordHash   string    `json:"record_hash"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Repository supplies pattern definitions and persists stats and history.
//
// UpdateStats is the only write path for a pattern's counters. It must be a
// single atomic read-modify-write inside the backend's native
// transaction/locking, so concurrent updates from parallel workers both
// apply; a lost increment silently corrupts the health signal that pattern
// regeneration depends on.
type Repository interface {
	// Close releases backend resources. Treat as "call once".
	Close()

	// EnsureSchema creates the patterns and price_history tables as needed.
	// Idempotent.
	EnsureSchema(ctx context.Context) error

	// GetPattern returns the pattern for a normalized domain, or ErrNotFound.
	GetPattern(ctx context.Context, domain string) (*pattern.Pattern, error)

	// ListPatterns returns every stored pattern.
	ListPatterns(ctx context.Context) ([]*pattern.Pattern, error)

	// PutPattern upserts a pattern's rules. On conflict the existing
	// counters are preserved: authoring a new rule set does not erase the
	// empirical record unless ResetStats is called explicitly.
	PutPattern(ctx context.Context, p *pattern.Pattern) error

	// UpdateStats atomically increments total_attempts, increments
	// successful_attempts iff success, recomputes success_rate, and returns
	// the new counters.
	UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error)

	// ResetStats zeroes a pattern's counters. This is the explicit external
	// reset; nothing else ever decays or caps the counters.
	ResetStats(ctx context.Context, domain string) error

	// InsertPriceHistory appends one price point. Backends deduplicate on
	// (domain, record_hash) so reprocessing the same page is idempotent.
	InsertPriceHistory(ctx context.Context, rec HistoryRecord) error

	// LatestHistory returns the most recent price point for a domain, or
	// ErrNotFound when none exists. The pipeline uses it as the "last
	// known-good extraction" for anomaly comparison and duplicate skipping.
	LatestHistory(ctx context.Context, domain string) (HistoryRecord, error)
}

// ---- backend factories (registered from init() in backend packages) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Panics on empty kind, nil factory, or duplicate registration: ambiguous
// backend selection should fail fast at program start.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
