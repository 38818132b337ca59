package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/fetch"
	"pricewatch/internal/pattern"
	"pricewatch/internal/storage"
	"pricewatch/internal/validate"
)

// fakeRepo is an in-memory storage.Repository for runner tests.
type fakeRepo struct {
	mu       sync.Mutex
	patterns map[string]*pattern.Pattern
	stats    map[string]*pattern.Stats
	history  []storage.HistoryRecord
	latest   map[string]storage.HistoryRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patterns: map[string]*pattern.Pattern{},
		stats:    map[string]*pattern.Stats{},
		latest:   map[string]storage.HistoryRecord{},
	}
}

func (f *fakeRepo) Close()                                {}
func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) GetPattern(ctx context.Context, domain string) (*pattern.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patterns[storage.NormalizeDomain(domain)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListPatterns(ctx context.Context) ([]*pattern.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pattern.Pattern
	for _, p := range f.patterns {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) PutPattern(ctx context.Context, p *pattern.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns[storage.NormalizeDomain(p.Domain)] = p
	return nil
}

func (f *fakeRepo) UpdateStats(ctx context.Context, domain string, success bool) (pattern.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storage.NormalizeDomain(domain)
	if _, ok := f.patterns[key]; !ok {
		return pattern.Stats{}, storage.ErrNotFound
	}
	s := f.stats[key]
	if s == nil {
		s = &pattern.Stats{}
		f.stats[key] = s
	}
	s.TotalAttempts++
	if success {
		s.SuccessfulAttempts++
	}
	s.SuccessRate = pattern.Rate(s.SuccessfulAttempts, s.TotalAttempts)
	return *s, nil
}

func (f *fakeRepo) ResetStats(ctx context.Context, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stats, storage.NormalizeDomain(domain))
	return nil
}

func (f *fakeRepo) InsertPriceHistory(ctx context.Context, rec storage.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rec)
	f.latest[rec.Domain] = rec
	return nil
}

func (f *fakeRepo) LatestHistory(ctx context.Context, domain string) (storage.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.latest[storage.NormalizeDomain(domain)]
	if !ok {
		return storage.HistoryRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

// fakeSource serves canned HTML by URL.
type fakeSource struct {
	pages map[string]string
}

func (f *fakeSource) Load(ctx context.Context, input fetch.Input) (string, error) {
	html, ok := f.pages[input.URL]
	if !ok {
		return "", fmt.Errorf("connect %s: connection refused", input.URL)
	}
	return html, nil
}

func pricePattern(domain string) *pattern.Pattern {
	return &pattern.Pattern{
		Domain: domain,
		Fields: map[string]pattern.FieldPattern{
			"price": {Primary: pattern.Selector{
				Type: pattern.StructuredQuery, Expression: "span.price", Confidence: 0.9,
			}},
			"title": {Primary: pattern.Selector{
				Type: pattern.StructuredQuery, Expression: "h1.title", Confidence: 0.9,
			}},
		},
	}
}

const goodPage = `<html><body>
<h1 class="title">Widget Deluxe</h1>
<span class="price">1 990,50 kr</span>
</body></html>`

func writeJobs(t *testing.T, jobsJSON string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte(jobsJSON), 0o644); err != nil {
		t.Fatalf("write jobs: %v", err)
	}
	return path
}

func testConfig(jobsFile string, workers int) *Config {
	return &Config{
		Source:     SourceConfig{JobsFile: jobsFile, FetchTimeout: "5s"},
		Storage:    storage.Config{Kind: "fake", DSN: "unused"},
		Validation: validate.DefaultConfig(),
		Runtime:    RuntimeConfig{Workers: workers, ChannelBuffer: workers},
	}
}

func newTestRunner(repo *fakeRepo, src *fakeSource) *Runner {
	return &Runner{
		Source:        src,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) { return repo, nil },
		now:           func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) },
	}
}

// TestRun_ValidExtractionPersists verifies the happy path end to end: fetch,
// extract, validate, stats success, history appended.
func TestRun_ValidExtractionPersists(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.patterns["example.com"] = pricePattern("example.com")
	src := &fakeSource{pages: map[string]string{"https://example.com/p/1": goodPage}}

	jobs := writeJobs(t, `[{"url": "https://example.com/p/1"}]`)
	sum, err := newTestRunner(repo, src).Run(context.Background(), testConfig(jobs, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Jobs != 1 || sum.Valid != 1 || sum.Invalid != 0 || sum.Errors != 0 {
		t.Fatalf("summary = %+v, want 1 valid job", sum)
	}
	if len(repo.history) != 1 {
		t.Fatalf("history points = %d, want 1", len(repo.history))
	}

	rec := repo.history[0]
	if rec.Domain != "example.com" || rec.Price != "1990.50" || rec.Title != "Widget Deluxe" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Confidence != 0.9 || len(rec.RecordHash) != 64 {
		t.Fatalf("record verdict fields = %+v", rec)
	}
	if s := repo.stats["example.com"]; s == nil || s.TotalAttempts != 1 || s.SuccessfulAttempts != 1 {
		t.Fatalf("stats = %+v, want 1/1", repo.stats["example.com"])
	}
}

// TestRun_InvalidExtractionIsSilent verifies an extraction that fails
// validation records a failed attempt and writes no history point; the
// problem surfaces only through pattern health.
func TestRun_InvalidExtractionIsSilent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.patterns["example.com"] = pricePattern("example.com")
	src := &fakeSource{pages: map[string]string{
		"https://example.com/p/1": `<html><body><h1 class="title">Widget</h1></body></html>`,
	}}

	jobs := writeJobs(t, `[{"url": "https://example.com/p/1"}]`)
	sum, err := newTestRunner(repo, src).Run(context.Background(), testConfig(jobs, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Invalid != 1 || sum.Valid != 0 || sum.Errors != 0 {
		t.Fatalf("summary = %+v, want 1 invalid", sum)
	}
	if len(repo.history) != 0 {
		t.Fatal("invalid extraction must not write history")
	}
	if s := repo.stats["example.com"]; s == nil || s.TotalAttempts != 1 || s.SuccessfulAttempts != 0 {
		t.Fatalf("stats = %+v, want 0/1", repo.stats["example.com"])
	}
}

// TestRun_FetchFailureSkipsStats verifies infrastructure trouble is counted
// as an error and never recorded against the pattern's counters.
func TestRun_FetchFailureSkipsStats(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.patterns["example.com"] = pricePattern("example.com")
	src := &fakeSource{pages: map[string]string{}} // every fetch refused

	jobs := writeJobs(t, `[{"url": "https://example.com/p/1"}]`)
	sum, err := newTestRunner(repo, src).Run(context.Background(), testConfig(jobs, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Errors != 1 || sum.Valid != 0 || sum.Invalid != 0 {
		t.Fatalf("summary = %+v, want 1 error", sum)
	}
	if repo.stats["example.com"] != nil {
		t.Fatal("fetch failure must not count as a pattern attempt")
	}
}

// TestRun_MissingPatternIsError verifies a job for a domain without a stored
// pattern is an error, not a failed attempt against a nonexistent pattern.
func TestRun_MissingPatternIsError(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	src := &fakeSource{pages: map[string]string{"https://nopattern.com/p": goodPage}}

	jobs := writeJobs(t, `[{"url": "https://nopattern.com/p"}]`)
	sum, err := newTestRunner(repo, src).Run(context.Background(), testConfig(jobs, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Errors != 1 {
		t.Fatalf("summary = %+v, want 1 error", sum)
	}
}

// TestRun_DuplicateObservationSkipped verifies re-extracting an unchanged
// page records a successful attempt but appends no second history point.
func TestRun_DuplicateObservationSkipped(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.patterns["example.com"] = pricePattern("example.com")
	src := &fakeSource{pages: map[string]string{"https://example.com/p/1": goodPage}}
	runner := newTestRunner(repo, src)
	jobs := writeJobs(t, `[{"url": "https://example.com/p/1"}]`)

	for i := 0; i < 2; i++ {
		sum, err := runner.Run(context.Background(), testConfig(jobs, 1))
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if sum.Valid != 1 {
			t.Fatalf("run %d summary = %+v, want valid", i, sum)
		}
	}

	if len(repo.history) != 1 {
		t.Fatalf("history points = %d, want 1 (duplicate skipped)", len(repo.history))
	}
	if s := repo.stats["example.com"]; s.TotalAttempts != 2 || s.SuccessfulAttempts != 2 {
		t.Fatalf("stats = %+v, want 2/2 (skip is still a success)", s)
	}
}

// TestRun_ConcurrentWorkersCountExactly verifies the worker pool neither
// drops nor double-counts jobs: 20 jobs across 4 workers produce a summary
// and stats that sum exactly.
func TestRun_ConcurrentWorkersCountExactly(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.patterns["example.com"] = pricePattern("example.com")
	pages := map[string]string{}
	jobsJSON := "["
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://example.com/p/%d", i)
		pages[url] = fmt.Sprintf(`<html><body><h1 class="title">Widget %d</h1><span class="price">%d kr</span></body></html>`, i, 100+i)
		if i > 0 {
			jobsJSON += ","
		}
		jobsJSON += fmt.Sprintf(`{"url": %q}`, url)
	}
	jobsJSON += "]"

	src := &fakeSource{pages: pages}
	jobs := writeJobs(t, jobsJSON)
	sum, err := newTestRunner(repo, src).Run(context.Background(), testConfig(jobs, 4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Jobs != 20 || sum.Valid != 20 {
		t.Fatalf("summary = %+v, want 20 valid jobs", sum)
	}
	if s := repo.stats["example.com"]; s.TotalAttempts != 20 || s.SuccessfulAttempts != 20 {
		t.Fatalf("stats = %+v, want 20/20", s)
	}
}

// TestRun_SetupErrors verifies storage and jobs-file failures abort the run
// before any worker starts.
func TestRun_SetupErrors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	boom := errors.New("dial failed")

	r := &Runner{
		Source: src,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return nil, boom
		},
	}
	if _, err := r.Run(context.Background(), testConfig("nope.json", 1)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want storage failure", err)
	}

	repo := newFakeRepo()
	r2 := newTestRunner(repo, src)
	if _, err := r2.Run(context.Background(), testConfig(filepath.Join(t.TempDir(), "missing.json"), 1)); err == nil {
		t.Fatal("missing jobs file must abort the run")
	}
}
