// Package fetchworker implements the contract spec.md §4.4 describes: an
// independent execution context that resolves per-minute slices (from disk
// if already cached, else over HTTP), writes them to a stable path, and
// announces completions, errors and exit over channels.
//
// Its internal concurrency governor is grounded directly on
// src/resource_guard.go's ResourceGuard: a semaphore bounding in-flight
// fetches (GoroutineLimiter), a golang.org/x/time/rate.Limiter capping the
// request rate, and periodic github.com/shirou/gopsutil/v3/cpu sampling
// that pauses new dispatch above a configured threshold — the same "CPU
// emergency brake" idea, applied to fetch dispatch instead of connection
// admission.
package fetchworker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"

	"github.com/tardis-go/tardis/internal/logging"
	"github.com/tardis-go/tardis/internal/metrics"
)

// SliceReady announces that one slice is fully written to disk and safe to
// read (spec.md §4.4's "Message event").
type SliceReady struct {
	SliceKey string
	Path     string
}

// Worker runs the fetch loop on its own goroutine. Construct with New and
// start with Start; the caller reads Messages/Errors/Done until Done
// closes.
type Worker struct {
	job    Job
	logger zerolog.Logger
	client *http.Client

	messages chan SliceReady
	errs     chan error
	done     chan struct{}

	sem     chan struct{}   // bounds concurrent in-flight fetches
	limiter *rate.Limiter   // bounds HTTP request rate
	cpu     cpuGauge        // current CPU percent, sampled periodically
	cfg     Config

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config tunes the worker's concurrency governor (internal/config.Config's
// fetch-worker fields flow in here).
type Config struct {
	MaxConcurrentFetches int
	MaxFetchRatePerSec   int
	CPUPauseThreshold    float64
}

type cpuGauge struct {
	mu      sync.Mutex
	percent float64
}

func (g *cpuGauge) set(p float64) {
	g.mu.Lock()
	g.percent = p
	g.mu.Unlock()
}

func (g *cpuGauge) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.percent
}

// New constructs a worker for job. The worker does not start fetching
// until Start is called.
func New(job Job, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 8
	}
	if cfg.MaxFetchRatePerSec <= 0 {
		cfg.MaxFetchRatePerSec = 20
	}
	if cfg.CPUPauseThreshold <= 0 {
		cfg.CPUPauseThreshold = 85.0
	}

	return &Worker{
		job:      job,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		messages: make(chan SliceReady, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		sem:      make(chan struct{}, cfg.MaxConcurrentFetches),
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxFetchRatePerSec), cfg.MaxFetchRatePerSec*2),
		cfg:      cfg,
	}
}

// Messages yields one SliceReady per slice as it becomes available on
// disk. Ordering may interleave slice keys arbitrarily (spec.md §4.4).
func (w *Worker) Messages() <-chan SliceReady { return w.messages }

// Errors yields at most one terminal error (spec.md §4.4). An error does not
// stop the worker by itself: it keeps dispatching and announcing the
// remaining slices until its context is cancelled or Stop is called.
func (w *Worker) Errors() <-chan error { return w.errs }

// Done closes once all slices are delivered or abandoned due to error
// (spec.md §4.4's "Exit event").
func (w *Worker) Done() <-chan struct{} { return w.done }

// Start launches the worker's goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.monitorCPU(ctx)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to cease and waits for it to exit, per spec.md
// §5's cooperative-cancellation requirement: no further cache-file writes
// occur after Stop returns.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) monitorCPU(ctx context.Context) {
	defer w.wg.Done()
	defer logging.RecoverPanic(w.logger, "fetchworker.monitorCPU", nil)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 100ms sample: short enough not to stall the ticker cadence,
			// long enough for a meaningful reading, same rationale as
			// ResourceGuard.UpdateResources.
			percent, err := cpu.Percent(100*time.Millisecond, false)
			if err == nil && len(percent) > 0 {
				w.cpu.set(percent[0])
			}
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("fetch worker panic recovered")
			w.fail(fmt.Errorf("fetch worker panic: %v", r))
		}
	}()

	keys := sliceKeys(w.job.From, w.job.To)

	var wg sync.WaitGroup
	for _, key := range keys {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		for w.cpu.get() > w.cfg.CPUPauseThreshold {
			metrics.FetchDropped.WithLabelValues(w.job.Exchange).Inc()
			w.logger.Warn().
				Str("slice_key", key).
				Float64("cpu_percent", w.cpu.get()).
				Msg("fetch dispatch paused by CPU emergency brake")
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-time.After(500 * time.Millisecond):
			}
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer func() { <-w.sem }()
			w.fetchOne(ctx, key)
		}(key)
	}

	wg.Wait()
}

// fetchOne resolves a single slice key: reuse the cached file if present,
// else rate-limited HTTP download, then announce the result.
func (w *Worker) fetchOne(ctx context.Context, sliceKey string) {
	defer logging.RecoverPanic(w.logger, "fetchworker.fetchOne", map[string]any{"slice_key": sliceKey})

	path := SlicePath(w.job.CacheDir, w.job.Exchange, w.job.Filters, sliceKey)

	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		// Idempotency: a slice already on disk from a prior job with the
		// same cache is never re-downloaded (spec.md §4.4). A zero-byte
		// file is a leftover from an interrupted write, not a finished
		// slice (an empty-minute slice is still a valid, non-empty gzip
		// stream), so it does not satisfy the cache-hit check and falls
		// through to a fresh download.
		metrics.SlicesCacheHit.WithLabelValues(w.job.Exchange).Inc()
		w.announce(sliceKey, path)
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return // context cancelled while waiting for a rate-limit token
	}

	if err := w.download(ctx, sliceKey, path); err != nil {
		if ctx.Err() != nil {
			return // cancelled, not a real error
		}
		metrics.FetchErrors.WithLabelValues(w.job.Exchange).Inc()
		w.fail(fmt.Errorf("fetch slice %s: %w", sliceKey, err))
		return
	}

	metrics.SlicesFetched.WithLabelValues(w.job.Exchange).Inc()
	w.announce(sliceKey, path)
}

func (w *Worker) download(ctx context.Context, sliceKey, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	url := fmt.Sprintf("%s/v1/data-feeds/%s?sliceKey=%s", w.job.Endpoint, w.job.Exchange, sliceKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if w.job.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.job.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching slice", resp.StatusCode)
	}

	// Write to a temp file and rename, so a concurrent Stat (the
	// idempotency check above) never observes a partially written file —
	// spec.md §3's "an entry is present only if the corresponding file is
	// fully written and closed" invariant extends to the on-disk file
	// itself, not just the in-memory index.
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write slice body: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (w *Worker) announce(sliceKey, path string) {
	select {
	case w.messages <- SliceReady{SliceKey: sliceKey, Path: path}:
	case <-time.After(30 * time.Second):
		w.logger.Error().Str("slice_key", sliceKey).Msg("message channel blocked, dropping announcement")
	}
}

func (w *Worker) fail(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// sliceKeys returns the ISO-8601 UTC minute boundaries covering [from, to).
func sliceKeys(from, to time.Time) []string {
	var out []string
	for t := from.Truncate(time.Minute); t.Before(to); t = t.Add(time.Minute) {
		out = append(out, FormatSliceKey(t))
	}
	return out
}

// FormatSliceKey renders t as the fixed ISO-8601 millisecond-precision
// minute boundary spec.md §3 uses as the SliceKey, e.g.
// "2020-03-01T00:00:00.000Z".
func FormatSliceKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format("2006-01-02T15:04:05.000Z")
}

// SlicePath computes the deterministic cache path for a slice: the
// exchange and a hash of the filter set partition the cache directory so
// two jobs with different filters over the same exchange/range don't
// collide (spec.md §3's "Identity: (exchange, filter-set hash, SliceKey)").
func SlicePath(cacheDir, exchange string, filters []Filter, sliceKey string) string {
	return filepath.Join(cacheDir, exchange, filterHash(filters), sliceKey+".json.gz")
}

func filterHash(filters []Filter) string {
	if len(filters) == 0 {
		return "all"
	}
	sorted := append([]Filter(nil), filters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Channel < sorted[j].Channel })
	for i := range sorted {
		syms := append([]string(nil), sorted[i].Symbols...)
		sort.Strings(syms)
		sorted[i].Symbols = syms
	}

	b, _ := json.Marshal(sorted)
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])[:12]
}
