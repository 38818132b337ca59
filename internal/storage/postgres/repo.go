// Package postgres implements storage.Repository on pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/pattern"
	"pricewatch/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
//
// Stats updates run inside a transaction with SELECT ... FOR UPDATE so two
// workers updating the same pattern serialize on the row instead of
// clobbering each other's increment.
type Repo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureSchema creates the patterns and price_history tables. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS patterns (
	domain TEXT PRIMARY KEY,
	fields JSONB NOT NULL,
	total_attempts BIGINT NOT NULL DEFAULT 0,
	successful_attempts BIGINT NOT NULL DEFAULT 0,
	success_rate DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS price_history (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	price NUMERIC(12,2) NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	availability TEXT NOT NULL DEFAULT '',
	sku TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL,
	record_hash TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (domain, record_hash)
);`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repo) GetPattern(ctx context.Context, domain string) (*pattern.Pattern, error) {
	domain = storage.NormalizeDomain(domain)

	var fieldsJSON []byte
	p := &pattern.Pattern{Domain: domain}
	err := r.pool.QueryRow(ctx,
		`SELECT fields, total_attempts, successful_attempts, success_rate
		 FROM patterns WHERE domain = $1`, domain,
	).Scan(&fieldsJSON, &p.TotalAttempts, &p.SuccessfulAttempts, &p.SuccessRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", domain, err)
	}

	if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
		return nil, fmt.Errorf("decode pattern %s fields: %w", domain, err)
	}
	return p, nil
}

func (r *Repo) ListPatterns(ctx context.Context) ([]*pattern.Pattern, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT domain, fields, total_attempts, successful_attempts, success_rate
		 FROM patterns ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Pattern
	for rows.Next() {
		var fieldsJSON []byte
		p := &pattern.Pattern{}
		if err := rows.Scan(&p.Domain, &fieldsJSON,
			&p.TotalAttempts, &p.SuccessfulAttempts, &p.SuccessRate); err != nil {
			return nil, fmt.Errorf("list patterns: scan: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
			return nil, fmt.Errorf("decode pattern %s fields: %w", p.Domain, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutPattern upserts the rule set. ON CONFLICT only the fields change; the
// empirical counters survive a re-authored pattern.
func (r *Repo) PutPattern(ctx context.Context, p *pattern.Pattern) error {
	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return fmt.Errorf("encode pattern %s fields: %w", p.Domain, err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO patterns (domain, fields, total_attempts, successful_attempts, success_rate)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (domain) DO UPDATE SET fields = EXCLUDED.fields`,
		storage.NormalizeDomain(p.Domain), fieldsJSON,
		p.TotalAttempts, p.SuccessfulAttempts, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("put pattern %s: %w", p.Domain, err)
	}
	return nil
}

// UpdateStats is the atomic read-modify-write for a pattern's counters.
func (r *Repo) UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error) {
	domain = storage.NormalizeDomain(domain)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: begin: %w", domain, err)
	}
	defer tx.Rollback(ctx)

	var total, successful int64
	err = tx.QueryRow(ctx,
		`SELECT total_attempts, successful_attempts FROM patterns
		 WHERE domain = $1 FOR UPDATE`, domain,
	).Scan(&total, &successful)
	if errors.Is(err, pgx.ErrNoRows) {
		return pattern.Stats{}, storage.ErrNotFound
	}
	if err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: select: %w", domain, err)
	}

	total++
	if success {
		successful++
	}
	rate := pattern.Rate(successful, total)

	if _, err := tx.Exec(ctx,
		`UPDATE patterns
		 SET total_attempts = $2, successful_attempts = $3, success_rate = $4
		 WHERE domain = $1`, domain, total, successful, rate); err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: update: %w", domain, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: commit: %w", domain, err)
	}

	return pattern.Stats{
		TotalAttempts:      total,
		SuccessfulAttempts: successful,
		SuccessRate:        rate,
	}, nil
}

func (r *Repo) ResetStats(ctx context.Context, domain string) error {
	domain = storage.NormalizeDomain(domain)
	tag, err := r.pool.Exec(ctx,
		`UPDATE patterns
		 SET total_attempts = 0, successful_attempts = 0, success_rate = 0
		 WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("reset stats %s: %w", domain, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertPriceHistory appends one price point, idempotently on
// (domain, record_hash).
func (r *Repo) InsertPriceHistory(ctx context.Context, rec storage.HistoryRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO price_history
		 (domain, url, price, currency, title, availability, sku, model, image_url,
		  confidence, record_hash, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (domain, record_hash) DO NOTHING`,
		storage.NormalizeDomain(rec.Domain), rec.URL, rec.Price, rec.Currency,
		rec.Title, rec.Availability, rec.SKU, rec.Model, rec.ImageURL,
		rec.Confidence, rec.RecordHash, rec.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert price history %s: %w", rec.Domain, err)
	}
	return nil
}

func (r *Repo) LatestHistory(ctx context.Context, domain string) (storage.HistoryRecord, error) {
	domain = storage.NormalizeDomain(domain)

	rec := storage.HistoryRecord{Domain: domain}
	err := r.pool.QueryRow(ctx,
		`SELECT url, price::text, currency, title, availability, sku, model, image_url,
		        confidence, record_hash, observed_at
		 FROM price_history WHERE domain = $1
		 ORDER BY observed_at DESC, id DESC LIMIT 1`, domain,
	).Scan(&rec.URL, &rec.Price, &rec.Currency, &rec.Title, &rec.Availability,
		&rec.SKU, &rec.Model, &rec.ImageURL, &rec.Confidence, &rec.RecordHash, &rec.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.HistoryRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.HistoryRecord{}, fmt.Errorf("latest history %s: %w", domain, err)
	}
	return rec, nil
}
