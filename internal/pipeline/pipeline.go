// Package pipeline wires the extraction core into a fetch-and-persist run:
// stream jobs, fetch pages, extract, validate, record the attempt in the
// pattern's stats, and append valid observations to price history.
//
// Extraction and validation are pure and run freely across workers; the only
// shared mutable state is each pattern's counters, which the repository
// updates atomically. An invalid extraction is silent by design: the attempt
// is recorded as a failure, no history point is written, and the problem
// surfaces later through the pattern health signal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/metrics"
	"pricewatch/internal/pattern"
	"pricewatch/internal/stats"
	"pricewatch/internal/storage"
	"pricewatch/internal/validate"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner executes a pipeline configuration. The exported fields are seams:
// production uses NewDefaultRunner, tests inject fakes.
type Runner struct {
	// Source loads page HTML. Defaults to the plain HTTP/file loader; the
	// browser-automation collaborator plugs in here.
	Source fetch.Source

	// NewRepository is the storage factory seam.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// Metrics receives pipeline metrics. Defaults to metrics.Noop.
	Metrics metrics.Backend

	// Logger receives stage logs. Nil discards them.
	Logger Logger

	// now is injected for deterministic tests.
	now func() time.Time
}

// NewDefaultRunner returns a Runner with production wiring.
func NewDefaultRunner(fetchTimeout time.Duration) *Runner {
	return &Runner{
		Source:        fetch.NewLoader(nil, fetchTimeout),
		NewRepository: storage.New,
		Metrics:       metrics.Noop{},
		Logger:        log.New(os.Stderr, "", log.LstdFlags),
		now:           time.Now,
	}
}

// Summary reports a completed run.
type Summary struct {
	Jobs    int64 `json:"jobs"`
	Valid   int64 `json:"valid"`
	Invalid int64 `json:"invalid"`
	Errors  int64 `json:"errors"` // infrastructure failures: fetch, storage, missing pattern
}

// Run processes every job in cfg's jobs file with cfg.Runtime.Workers
// concurrent workers.
//
// Run returns an error only for setup failures (config, storage, jobs file).
// Per-job failures are counted in the Summary and logged; they never abort
// the rest of the batch.
func (r *Runner) Run(ctx context.Context, cfg *Config) (Summary, error) {
	logf := r.logger()
	if r.now == nil {
		r.now = time.Now
	}
	if r.Metrics == nil {
		r.Metrics = metrics.Noop{}
	}

	repo, err := r.NewRepository(ctx, cfg.Storage)
	if err != nil {
		return Summary{}, fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		return Summary{}, err
	}

	f, err := os.Open(cfg.Source.JobsFile)
	if err != nil {
		return Summary{}, fmt.Errorf("open jobs file: %w", err)
	}
	defer f.Close()

	validator := validate.New(cfg.Validation)
	tracker := stats.New(repo)

	jobs := make(chan Job, cfg.Runtime.ChannelBuffer)
	var sum Summary

	var wg sync.WaitGroup
	for i := 0; i < cfg.Runtime.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				atomic.AddInt64(&sum.Jobs, 1)
				switch r.processJob(ctx, repo, validator, tracker, job, logf) {
				case outcomeValid:
					atomic.AddInt64(&sum.Valid, 1)
				case outcomeInvalid:
					atomic.AddInt64(&sum.Invalid, 1)
				case outcomeError:
					atomic.AddInt64(&sum.Errors, 1)
				}
			}
		}()
	}

	streamErr := StreamJobs(ctx, f, jobs)
	close(jobs)
	wg.Wait()

	if err := r.Metrics.Flush(); err != nil {
		logf("stage=metrics_flush err=%v", err)
	}

	logf("stage=done jobs=%d valid=%d invalid=%d errors=%d",
		sum.Jobs, sum.Valid, sum.Invalid, sum.Errors)
	return sum, streamErr
}

type outcome int

const (
	outcomeValid outcome = iota
	outcomeInvalid
	outcomeError
)

func (r *Runner) processJob(
	ctx context.Context,
	repo storage.Repository,
	validator *validate.Validator,
	tracker *stats.Tracker,
	job Job,
	logf func(format string, v ...any),
) outcome {
	domain := job.Domain
	if domain == "" {
		domain = job.URL
	}
	domain = storage.NormalizeDomain(domain)

	pat, err := repo.GetPattern(ctx, domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logf("stage=pattern domain=%s err=no pattern", domain)
		} else {
			logf("stage=pattern domain=%s err=%v", domain, err)
		}
		r.countAttempt(domain, "error")
		return outcomeError
	}

	html, err := r.Source.Load(ctx, fetch.Input{URL: job.URL, File: job.File})
	if err != nil {
		logf("stage=fetch domain=%s err=%v", domain, err)
		r.countAttempt(domain, "error")
		return outcomeError
	}

	start := r.now()
	page, err := extract.ParseString(html)
	if err != nil {
		// The page reached extraction and produced nothing usable: this is
		// a failed attempt against the pattern, not infrastructure trouble.
		logf("stage=parse domain=%s err=%v", domain, err)
		return r.recordOutcome(ctx, tracker, domain, false, logf)
	}

	res := extract.Extract(page, pat)
	prev := r.previous(ctx, repo, domain)
	var prevRes *extract.Result
	if prev != nil {
		prevRes = prev.result
	}

	verdict := validator.Validate(res, prevRes)
	r.Metrics.ObserveHistogram(metrics.ExtractDuration,
		r.now().Sub(start).Seconds(), metrics.Labels{"domain": domain})

	if !verdict.Valid {
		logf("stage=validate domain=%s valid=false errors=%q warnings=%q",
			domain, verdict.Errors, verdict.Warnings)
		return r.recordOutcome(ctx, tracker, domain, false, logf)
	}

	if out := r.recordOutcome(ctx, tracker, domain, true, logf); out == outcomeError {
		return out
	}

	rec := historyRecord(domain, job, res, verdict, r.now())
	if prev != nil && prev.RecordHashEquals(rec.RecordHash) {
		logf("stage=persist domain=%s skip=unchanged", domain)
		return outcomeValid
	}
	if err := repo.InsertPriceHistory(ctx, rec); err != nil {
		logf("stage=persist domain=%s err=%v", domain, err)
		return outcomeError
	}

	logf("stage=persist domain=%s price=%s confidence=%.2f warnings=%d",
		domain, rec.Price, rec.Confidence, len(verdict.Warnings))
	return outcomeValid
}

// recordOutcome applies the single stats update for this attempt and emits
// the health metrics. A storage failure here is infrastructure trouble and
// overrides the extraction outcome.
func (r *Runner) recordOutcome(
	ctx context.Context,
	tracker *stats.Tracker,
	domain string,
	success bool,
	logf func(format string, v ...any),
) outcome {
	s, health, err := tracker.Update(ctx, domain, success)
	if err != nil {
		logf("stage=stats domain=%s err=%v", domain, err)
		r.countAttempt(domain, "error")
		return outcomeError
	}

	r.Metrics.SetGauge(metrics.PatternSuccessRate, s.SuccessRate,
		metrics.Labels{"domain": domain})

	if success {
		r.countAttempt(domain, "valid")
		return outcomeValid
	}
	r.countAttempt(domain, "invalid")
	if health == pattern.Failing {
		logf("stage=stats domain=%s health=%s rate=%.3f attempts=%d",
			domain, health, s.SuccessRate, s.TotalAttempts)
	}
	return outcomeInvalid
}

func (r *Runner) countAttempt(domain, status string) {
	r.Metrics.IncCounter(metrics.AttemptsTotal, 1,
		metrics.Labels{"domain": domain, "status": status})
}

// previous replays the latest persisted observation as an extraction result
// for anomaly comparison. Absent history means no comparison.
func (r *Runner) previous(ctx context.Context, repo storage.Repository, domain string) *previousObservation {
	rec, err := repo.LatestHistory(ctx, domain)
	if err != nil {
		return nil
	}
	return &previousObservation{
		result: extract.ResultFromValues(domain, map[string]string{
			"price":        rec.Price,
			"title":        rec.Title,
			"availability": rec.Availability,
		}),
		hash: rec.RecordHash,
	}
}

type previousObservation struct {
	result *extract.Result
	hash   string
}

func (p *previousObservation) RecordHashEquals(h string) bool {
	return p.hash != "" && p.hash == h
}

func historyRecord(domain string, job Job, res *extract.Result, verdict validate.Result, now time.Time) storage.HistoryRecord {
	return storage.HistoryRecord{
		Domain:       domain,
		URL:          job.URL,
		Price:        res.Field("price").Value,
		Currency:     res.Field("currency").Value,
		Title:        res.Field("title").Value,
		Availability: res.Field("availability").Value,
		SKU:          res.Field("sku").Value,
		Model:        res.Field("model").Value,
		ImageURL:     res.Field("image").Value,
		Confidence:   verdict.Confidence,
		RecordHash:   recordHash(res),
		ObservedAt:   now.UTC(),
	}
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return r.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
