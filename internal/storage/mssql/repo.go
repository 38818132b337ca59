// Package mssql implements storage.Repository for Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"pricewatch/internal/pattern"
	"pricewatch/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for SQL Server.
//
// Concurrency:
//   - UpdateStats locks the pattern row WITH (UPDLOCK, ROWLOCK) inside a
//     transaction so writers for the same domain serialize cleanly without
//     table-wide locks.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`IF OBJECT_ID('patterns', 'U') IS NULL
		 CREATE TABLE patterns (
			domain NVARCHAR(255) NOT NULL PRIMARY KEY,
			fields NVARCHAR(MAX) NOT NULL,
			total_attempts BIGINT NOT NULL DEFAULT 0,
			successful_attempts BIGINT NOT NULL DEFAULT 0,
			success_rate FLOAT NOT NULL DEFAULT 0
		 )`,
		`IF OBJECT_ID('price_history', 'U') IS NULL
		 CREATE TABLE price_history (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			domain NVARCHAR(255) NOT NULL,
			url NVARCHAR(2048) NOT NULL DEFAULT '',
			price DECIMAL(12,2) NOT NULL,
			currency NVARCHAR(8) NOT NULL DEFAULT '',
			title NVARCHAR(512) NOT NULL DEFAULT '',
			availability NVARCHAR(64) NOT NULL DEFAULT '',
			sku NVARCHAR(128) NOT NULL DEFAULT '',
			model NVARCHAR(128) NOT NULL DEFAULT '',
			image_url NVARCHAR(2048) NOT NULL DEFAULT '',
			confidence FLOAT NOT NULL,
			record_hash NVARCHAR(64) NOT NULL,
			observed_at DATETIMEOFFSET NOT NULL,
			CONSTRAINT uq_price_history UNIQUE (domain, record_hash)
		 )`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) GetPattern(ctx context.Context, domain string) (*pattern.Pattern, error) {
	domain = storage.NormalizeDomain(domain)

	var fieldsJSON string
	p := &pattern.Pattern{Domain: domain}
	err := r.db.QueryRowContext(ctx,
		`SELECT fields, total_attempts, successful_attempts, success_rate
		 FROM patterns WHERE domain = @p1`, domain,
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

	// MERGE-free upsert: UPDATE first, INSERT when the row did not exist.
	// Counters are intentionally not part of the UPDATE.
	domain := storage.NormalizeDomain(p.Domain)
	res, err := r.db.ExecContext(ctx,
		`UPDATE patterns SET fields = @p2 WHERE domain = @p1`,
		domain, string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("put pattern %s: %w", p.Domain, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO patterns (domain, fields, total_attempts, successful_attempts, success_rate)
		 VALUES (@p1, @p2, @p3, @p4, @p5)`,
		domain, string(fieldsJSON), p.TotalAttempts, p.SuccessfulAttempts, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("put pattern %s: %w", p.Domain, err)
	}
	return nil
}

func (r *Repo) UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error) {
	domain = storage.NormalizeDomain(domain)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: begin: %w", domain, err)
	}
	defer tx.Rollback()

	var total, successful int64
	err = tx.QueryRowContext(ctx,
		`SELECT total_attempts, successful_attempts FROM patterns
		 WITH (UPDLOCK, ROWLOCK) WHERE domain = @p1`, domain,
	).Scan(&total, &successful)
	if errors.Is(err, sql.ErrNoRows) {
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

	if _, err := tx.ExecContext(ctx,
		`UPDATE patterns
		 SET total_attempts = @p2, successful_attempts = @p3, success_rate = @p4
		 WHERE domain = @p1`, domain, total, successful, rate); err != nil {
		return pattern.Stats{}, fmt.Errorf("update stats %s: update: %w", domain, err)
	}
	if err := tx.Commit(); err != nil {
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
	res, err := r.db.ExecContext(ctx,
		`UPDATE patterns
		 SET total_attempts = 0, successful_attempts = 0, success_rate = 0
		 WHERE domain = @p1`, domain)
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
		 SELECT @p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12
		 WHERE NOT EXISTS (
			SELECT 1 FROM price_history WHERE domain = @p1 AND record_hash = @p11
		 )`,
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
	err := r.db.QueryRowContext(ctx,
		`SELECT TOP 1 url, CAST(price AS NVARCHAR(32)), currency, title, availability,
		        sku, model, image_url, confidence, record_hash, observed_at
		 FROM price_history WHERE domain = @p1
		 ORDER BY observed_at DESC, id DESC`, domain,
	).Scan(&rec.URL, &rec.Price, &rec.Currency, &rec.Title, &rec.Availability,
		&rec.SKU, &rec.Model, &rec.ImageURL, &rec.Confidence, &rec.RecordHash, &rec.ObservedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.HistoryRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.HistoryRecord{}, fmt.Errorf("latest history %s: %w", domain, err)
	}
	return rec, nil
}
