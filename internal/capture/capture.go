// Package capture records raw provider responses for resolved leads into an
// immutable, checksummed bundle that fixture mode can replay.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/config"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/resilience"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
	"github.com/kylestephens-labs/fund-signal/internal/verify"
	"github.com/kylestephens-labs/fund-signal/pkg/tavily"
	"github.com/kylestephens-labs/fund-signal/pkg/youcom"
)

// ToolVersion is stamped into every manifest this binary writes.
const ToolVersion = "1.0.0"

// DLQName is the dead-letter file inside a bundle directory.
const DLQName = "dlq.jsonl"

// BundleDir returns the date-partitioned directory for a new bundle,
// <root>/YYYY/MM/DD/bundle-<YYYYMMDDTHHMMSSZ>.
func BundleDir(root string, now time.Time) string {
	now = now.UTC()
	stamp := now.Format("20060102T150405Z")
	return filepath.Join(root, now.Format("2006"), now.Format("01"), now.Format("02"), "bundle-"+stamp)
}

// provider adapts one search API to the capture loop.
type provider struct {
	name      string
	file      string
	qps       float64
	limit     int
	fetch     func(ctx context.Context, query string) ([]map[string]any, error)
	buildQry  func(seed lead.ResolutionResult) string
	retryable func(error) bool
}

// Runner drives online capture for all configured providers.
type Runner struct {
	cfg       *config.Config
	providers []provider
	breakers  *resilience.ProviderBreakers
	nowFunc   func() time.Time
}

// NewRunner wires the capture loop to live provider clients built from cfg.
func NewRunner(cfg *config.Config) *Runner {
	youcomClient := youcom.NewClient(cfg.Youcom.Key, youcom.WithBaseURL(cfg.Youcom.BaseURL))
	tavilyClient := tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL))
	return NewRunnerWithClients(cfg, youcomClient, tavilyClient)
}

// NewRunnerWithClients is NewRunner with injectable clients.
func NewRunnerWithClients(cfg *config.Config, youcomClient youcom.Client, tavilyClient tavily.Client) *Runner {
	providers := []provider{
		{
			name:  "youcom",
			file:  "youcom.jsonl",
			qps:   cfg.Youcom.QPS,
			limit: cfg.Youcom.Limit,
			fetch: func(ctx context.Context, query string) ([]map[string]any, error) {
				records, err := youcomClient.SearchNews(ctx, query, cfg.Youcom.Limit)
				if err != nil {
					return nil, err
				}
				return recordMaps(records), nil
			},
			buildQry:  verify.YoucomQuery,
			retryable: resilience.ProviderRetry(youcom.IsRateLimit, youcom.IsTimeout),
		},
		{
			name:  "tavily",
			file:  "tavily.jsonl",
			qps:   cfg.Tavily.QPS,
			limit: cfg.Tavily.Limit,
			fetch: func(ctx context.Context, query string) ([]map[string]any, error) {
				records, err := tavilyClient.Search(ctx, query, cfg.Tavily.Limit)
				if err != nil {
					return nil, err
				}
				return recordMaps(records), nil
			},
			buildQry:  verify.TavilyQuery,
			retryable: resilience.ProviderRetry(tavily.IsRateLimit, tavily.IsTimeout),
		},
	}
	return &Runner{
		cfg:       cfg,
		providers: providers,
		breakers: resilience.NewProviderBreakers(
			resilience.FromCircuitConfig(cfg.Capture.BreakerThreshold, cfg.Capture.BreakerResetSecs)),
		nowFunc: time.Now,
	}
}

func recordMaps[T ~map[string]any](records []T) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = map[string]any(rec)
	}
	return out
}

// Run captures every seed against every provider into bundleDir and writes
// the signed manifest. Seeds normalizing to the same slug are captured once;
// with resume, slugs already present in a provider's JSONL file are skipped.
func (r *Runner) Run(ctx context.Context, seeds []lead.ResolutionResult, bundleDir string, resume bool) (*bundle.Manifest, error) {
	rawDir := filepath.Join(bundleDir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "capture: create %s", rawDir)
	}
	if _, err := jsonio.WriteJSON(filepath.Join(rawDir, "seed.json"), seeds); err != nil {
		return nil, err
	}

	retryCfg := resilience.FromRetryConfig(
		r.cfg.Capture.MaxRetries, r.cfg.Capture.InitialBackoffMs, r.cfg.Capture.MaxBackoffMs)

	dlq := newJSONLWriter(filepath.Join(bundleDir, DLQName))
	defer dlq.Close()

	stats := make([]*providerRun, len(r.providers))
	for i, p := range r.providers {
		run, err := newProviderRun(p, rawDir, resume)
		if err != nil {
			return nil, err
		}
		stats[i] = run
	}
	defer func() {
		for _, run := range stats {
			run.out.Close()
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, r.cfg.Capture.Concurrency))

	for _, run := range stats {
		for _, seed := range seeds {
			slug := lead.Slugify(seed.CompanyName)
			if !run.claim(slug) {
				continue
			}
			group.Go(func() error {
				return r.captureOne(groupCtx, run, seed, slug, retryCfg, dlq)
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	manifest, err := r.writeManifest(bundleDir, stats)
	if err != nil {
		return nil, err
	}

	telemetry.Emit("capture", "complete",
		zap.String("bundle_id", manifest.BundleID),
		zap.Int("seeds", len(seeds)),
		zap.Int("providers", len(stats)))
	return manifest, nil
}

func (r *Runner) captureOne(ctx context.Context, run *providerRun, seed lead.ResolutionResult, slug string, retryCfg resilience.RetryConfig, dlq *jsonlWriter) error {
	query := run.p.buildQry(seed)
	cfg := retryCfg
	cfg.ShouldRetry = run.p.retryable
	logRetry := resilience.RetryLogger(run.p.name, "capture")
	cfg.OnRetry = func(attempt int, err error) {
		run.noteRetry(err)
		logRetry(attempt, err)
	}

	breaker := r.breakers.Get(run.p.name)
	records, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]map[string]any, error) {
		if err := run.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) ([]map[string]any, error) {
			run.noteRequest()
			return run.p.fetch(ctx, query)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.noteFailure(err)
		entry := resilience.NewDLQEntry(slug, query, run.p.name, err,
			r.cfg.Capture.MaxRetries, r.cfg.Capture.MaxRetries, r.nowFunc())
		if werr := dlq.Append(entry); werr != nil {
			return werr
		}
		zap.L().Warn("capture query dead-lettered",
			zap.String("provider", run.p.name),
			zap.String("slug", slug),
			zap.String("error_type", entry.ErrorType))
		return nil
	}

	run.noteSuccess(records)
	return run.out.Append(captureRecord{
		Slug:      slug,
		Data:      records,
		Timestamp: r.nowFunc().UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (r *Runner) writeManifest(bundleDir string, stats []*providerRun) (*bundle.Manifest, error) {
	files, err := bundle.GatherFiles(bundleDir)
	if err != nil {
		return nil, err
	}

	providerStats := make([]bundle.ProviderStats, len(stats))
	for i, run := range stats {
		providerStats[i] = run.stats()
	}
	sort.Slice(providerStats, func(i, j int) bool { return providerStats[i].Name < providerStats[j].Name })

	now := r.nowFunc().UTC()
	manifest := bundle.Manifest{
		SchemaVersion: bundle.SchemaVersion,
		BundleID:      filepath.Base(bundleDir),
		CapturedAt:    now.Format("2006-01-02T15:04:05Z"),
		ExpiryDays:    r.cfg.Bundle.ExpiryDays,
		ToolVersion:   ToolVersion,
		Providers:     providerStats,
		Files:         files,
	}
	if err := bundle.WriteManifest(bundleDir, manifest, r.cfg.Bundle.SigningKey); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// captureRecord is one JSONL line in a provider capture file.
type captureRecord struct {
	Slug      string           `json:"slug"`
	Data      []map[string]any `json:"data"`
	Timestamp string           `json:"timestamp"`
}

// providerRun holds one provider's writer, limiter, resume set, and counters.
type providerRun struct {
	p       provider
	out     *jsonlWriter
	limiter *rate.Limiter

	mu         sync.Mutex
	seenSlugs  map[string]bool
	requests   int
	successes  int
	rateLimits int
	errors     int
	samples    int
	domains    map[string]bool
}

func newProviderRun(p provider, rawDir string, resume bool) (*providerRun, error) {
	path := filepath.Join(rawDir, p.file)
	seenSlugs := map[string]bool{}
	if resume {
		var err error
		seenSlugs, err = capturedSlugs(path)
		if err != nil {
			return nil, err
		}
		if len(seenSlugs) > 0 {
			zap.L().Info("resuming capture",
				zap.String("provider", p.name),
				zap.Int("captured_slugs", len(seenSlugs)))
		}
	}
	qps := p.qps
	if qps <= 0 {
		qps = 1
	}
	return &providerRun{
		p:         p,
		out:       newJSONLWriter(path),
		limiter:   rate.NewLimiter(rate.Limit(qps), 1),
		seenSlugs: seenSlugs,
		domains:   map[string]bool{},
	}, nil
}

// claim marks a slug as handled by this run, returning false when it was
// already captured or another seed normalized to the same slug first.
func (pr *providerRun) claim(slug string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.seenSlugs[slug] {
		return false
	}
	pr.seenSlugs[slug] = true
	return true
}

func (pr *providerRun) noteRequest() {
	pr.mu.Lock()
	pr.requests++
	pr.mu.Unlock()
}

func (pr *providerRun) noteRetry(err error) {
	pr.mu.Lock()
	if isRateLimit(err) {
		pr.rateLimits++
	}
	pr.mu.Unlock()
}

func (pr *providerRun) noteFailure(err error) {
	pr.mu.Lock()
	pr.errors++
	if isRateLimit(err) {
		pr.rateLimits++
	}
	pr.mu.Unlock()
}

func (pr *providerRun) noteSuccess(records []map[string]any) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.successes++
	for _, rec := range records {
		pr.samples++
		if url, ok := rec["url"].(string); ok {
			if domain := verify.NormalizeDomain(url); domain != "" {
				pr.domains[domain] = true
			}
		}
	}
}

func (pr *providerRun) stats() bundle.ProviderStats {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	ratio := 0.0
	if pr.samples > 0 {
		ratio = round4(float64(len(pr.domains)) / float64(pr.samples))
	}
	return bundle.ProviderStats{
		Name:       pr.p.name,
		Requests:   pr.requests,
		Successes:  pr.successes,
		RateLimits: pr.rateLimits,
		Errors:     pr.errors,
		DedupRatio: ratio,
	}
}

func isRateLimit(err error) bool {
	return youcom.IsRateLimit(err) || tavily.IsRateLimit(err)
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

// capturedSlugs scans an existing provider JSONL file for resume.
func capturedSlugs(path string) (map[string]bool, error) {
	slugs := map[string]bool{}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return slugs, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "capture: open %s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record struct {
			Slug string `json:"slug"`
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.Slug != "" {
			slugs[record.Slug] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "capture: read %s", path)
	}
	return slugs, nil
}

// jsonlWriter appends compact JSON lines to a file, opening it lazily so an
// untouched DLQ leaves no empty file behind.
type jsonlWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func newJSONLWriter(path string) *jsonlWriter {
	return &jsonlWriter{path: path}
}

func (w *jsonlWriter) Append(record any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return eris.Wrapf(err, "capture: open %s", w.path)
		}
		w.file = file
	}
	line, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "capture: marshal record")
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return eris.Wrapf(err, "capture: append %s", w.path)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
