// Package sqlite implements storage.Repository on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pricewatch/internal/pattern"
	"pricewatch/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite serializes writers; the stats update is a single
//     UPDATE ... RETURNING statement, which is atomic without an explicit
//     row lock.
//   - SQLite has no TIMESTAMPTZ; observed_at is stored as an RFC3339Nano
//     string for reliable round-trips and easy debugging.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY when pipeline workers update stats in parallel.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS patterns (
	domain TEXT PRIMARY KEY,
	fields TEXT NOT NULL,
	total_attempts INTEGER NOT NULL DEFAULT 0,
	successful_attempts INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	availability TEXT NOT NULL DEFAULT '',
	sku TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	record_hash TEXT NOT NULL,
	observed_at TEXT NOT NULL,
	UNIQUE (domain, record_hash)
);`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repo) GetPattern(ctx context.Context, domain string) (*pattern.Pattern, error) {
	domain = storage.NormalizeDomain(domain)

	var fieldsJSON string
	p := &pattern.Pattern{Domain: domain}
	err := r.db.QueryRowContext(ctx,
		`SELECT fields, total_attempts, successful_attempts, success_rate
		 FROM patterns WHERE domain = ?`, domain,
	).Scan(&fieldsJSON, &p.TotalAttempts, &p.SuccessfulAttempts, &p.SuccessRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", domain, err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, fmt.Errorf("decode pattern %s fields: %w", domain, err)
	}
	return p, nil
}

func (r *Repo) ListPatterns(ctx context.Context) ([]*pattern.Pattern, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, fields, total_attempts, successful_attempts, success_rate
		 FROM patterns ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Pattern
	for rows.Next() {
		var fieldsJSON string
		p := &pattern.Pattern{}
		if err := rows.Scan(&p.Domain, &fieldsJSON,
			&p.TotalAttempts, &p.SuccessfulAttempts, &p.SuccessRate); err != nil {
			return nil, fmt.Errorf("list patterns: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
			return nil, fmt.Errorf("decode pattern %s fields: %w", p.Domain, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) PutPattern(ctx context.Context, p *pattern.Pattern) error {
	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return fmt.Errorf("encode pattern %s fields: %w", p.Domain, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO patterns (domain, fields, total_attempts, successful_attempts, success_rate)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (domain) DO UPDATE SET fields = excluded.fields`,
		storage.NormalizeDomain(p.Domain), string(fieldsJSON),
		p.TotalAttempts, p.SuccessfulAttempts, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("put pattern %s: %w", p.Domain, err)
	}
	return nil
}

// UpdateStats increments the counters in a single UPDATE ... RETURNING
// statement. SQLite runs one writer at a time, so the arithmetic inside the
// statement reads and writes the row atomically.
func (r *Repo) UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error) {
	domain = storage.NormalizeDomain(domain)

	inc := 0
	if success {
		inc = 1
	}

	var s pattern.Stats
	err := r.db.QueryRowContext(ctx,
		`UPDATE patterns
		 SET total_attempts = total_attempts + 1,
		     successful_attempts = successful_attempts + ?,
		     success_rate = CAST(successful_attempts + ? AS REAL) / (total_attempts + 1)
		 WHERE domain = ?
		 RETURNING total_attempts, successful_attempts, success_rate`,
		inc, inc, domain,
	).Scan(&s.TotalAttempts, &s.SuccessfulAttempts, &s.SuccessRate)
	if errors.Is(err, sql.ErrNoRows) {
		return pattern.Stats{}, storage.ErrNotFound
	}
	if err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: %w", domain, err)
	}
	return s, nil
}

func (r *Repo) ResetStats(ctx context.Context, domain string) error {
	domain = storage.NormalizeDomain(domain)
	res, err := r.db.ExecContext(ctx,
		`UPDATE patterns
		 SET total_attempts = 0, successful_attempts = 0, success_rate = 0
		 WHERE domain = ?`, domain)
	if err != nil {
		return fmt.Errorf("reset stats %s: %w", domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) InsertPriceHistory(ctx context.Context, rec storage.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_history
		 (domain, url, price, currency, title, availability, sku, model, image_url,
		  confidence, record_hash, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (domain, record_hash) DO NOTHING`,
		storage.NormalizeDomain(rec.Domain), rec.URL, rec.Price, rec.Currency,
		rec.Title, rec.Availability, rec.SKU, rec.Model, rec.ImageURL,
		rec.Confidence, rec.RecordHash, rec.ObservedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert price history %s: %w", rec.Domain, err)
	}
	return nil
}

func (r *Repo) LatestHistory(ctx context.Context, domain string) (storage.HistoryRecord, error) {
	domain = storage.NormalizeDomain(domain)

	var observedAt string
	rec := storage.HistoryRecord{Domain: domain}
	err := r.db.QueryRowContext(ctx,
		`SELECT url, price, currency, title, availability, sku, model, image_url,
		        confidence, record_hash, observed_at
		 FROM price_history WHERE domain = ?
		 ORDER BY observed_at DESC, id DESC LIMIT 1`, domain,
	).Scan(&rec.URL, &rec.Price, &rec.Currency, &rec.Title, &rec.Availability,
		&rec.SKU, &rec.Model, &rec.ImageURL, &rec.Confidence, &rec.RecordHash, &observedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.HistoryRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.HistoryRecord{}, fmt.Errorf("latest history %s: %w", domain, err)
	}

	if t, err := time.Parse(time.RFC3339Nano, observedAt); err == nil {
		rec.ObservedAt = t
	}
	return rec, nil
}
