// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// The backend buffers metrics in memory (fast, lock-protected), flushes on a
// ticker (default: once per minute), and flushes one final time on Close().
// Long-running pipelines get a time series while they run; short-lived CLI
// invocations still get their tail flush at shutdown.
//
// Concurrency model:
//   - Pipeline workers call IncCounter/ObserveHistogram/SetGauge at any time.
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock.
//   - The flush loop calls Flush() periodically; Close() stops the loop.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"pricewatch/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "pricewatch".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; unit tests use
	// them to avoid real network submission and nondeterministic tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs. The SDK exposes a concrete *datadogV2.MetricsApi; depending on this
// interface instead lets tests inject a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	// key: "<name>\x00<sorted tags>"
	counters map[string]sample
	gauges   map[string]sample
	samples  map[string]histSample
}

type sample struct {
	name  string
	tags  []string
	value float64
}

type histSample struct {
	name   string
	tags   []string
	values []float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Datadog client construction is not expected to fail under normal
// conditions; network errors surface during Flush().
func NewBackend(parent context.Context, opts Options) *Backend {
	job := opts.JobName
	if job == "" {
		job = "pricewatch"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[string]sample),
		gauges:     make(map[string]sample),
		samples:    make(map[string]histSample),
	}

	go b.loop()
	return b
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Close-once semantics: a second Close panics on the closed channel.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, tags := b.key(name, labels)

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.counters[k]
	s.name, s.tags = name, tags
	s.value += delta
	b.counters[k] = s
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, tags := b.key(name, labels)

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.samples[k]
	h.name, h.tags = name, tags
	h.values = append(h.values, value)
	b.samples[k] = h
}

// SetGauge implements metrics.Backend. Last write in a flush window wins.
func (b *Backend) SetGauge(name string, value float64, labels metrics.Labels) {
	k, tags := b.key(name, labels)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.gauges[k] = sample{name: name, tags: tags, value: value}
}

func (b *Backend) key(name string, labels metrics.Labels) (string, []string) {
	tags := make([]string, 0, len(b.baseTags)+len(labels))
	tags = append(tags, b.baseTags...)
	for k, v := range labels {
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return name + "\x00" + strings.Join(tags, ","), tags
}

// snapshotAndReset grabs buffered metrics and resets internal buffers.
// Takes the lock internally and returns detached maps.
func (b *Backend) snapshotAndReset() (map[string]sample, map[string]sample, map[string]histSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counters, gauges, samples := b.counters, b.gauges, b.samples
	b.counters = make(map[string]sample)
	b.gauges = make(map[string]sample)
	b.samples = make(map[string]histSample)
	return counters, gauges, samples
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers reset even if submission fails: keeping extraction workers fast
// matters more than at-least-once metric delivery.
func (b *Backend) Flush() error {
	counters, gauges, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(gauges) == 0 && len(samples) == 0 {
		return nil
	}

	series := buildSeries(counters, gauges, samples, b.now().Unix())

	_, _, err := b.api.SubmitMetrics(b.ctx,
		datadogV2.MetricPayload{Series: series},
		*datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, no network, no clocks) so naming and
// percentile behavior stay unit-testable.
func buildSeries(counters, gauges map[string]sample, samples map[string]histSample, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+len(gauges)+len(samples)*4)

	for _, s := range counters {
		series = append(series, metricSeries(s.name, s.value, s.tags, nowUnix, datadogV2.METRICINTAKETYPE_COUNT))
	}
	for _, s := range gauges {
		series = append(series, metricSeries(s.name, s.value, s.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE))
	}
	for _, h := range samples {
		cp := append([]float64(nil), h.values...)
		sort.Float64s(cp)
		series = append(series,
			metricSeries(h.name+".p50", percentileNearestRank(cp, 0.50), h.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE),
			metricSeries(h.name+".p95", percentileNearestRank(cp, 0.95), h.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE),
			metricSeries(h.name+".max", cp[len(cp)-1], h.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE),
			metricSeries(h.name+".samples", float64(len(cp)), h.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE),
		)
	}
	return series
}

func metricSeries(metric string, value float64, tags []string, nowUnix int64, typ datadogV2.MetricIntakeType) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:pricewatch".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
