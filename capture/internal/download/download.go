// CLAUDE:SUMMARY Bounded-concurrency asset downloader with asset/byte/time budgets, first-cause stop reason and cancellation.
// Package download fetches the located resources into a resource.Map under
// concurrency, asset-count, byte and wall-clock budgets.
package download

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/pagesnap/capture/internal/fetcher"
	"github.com/hazyhaar/pagesnap/capture/internal/resource"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// Stop reasons. The first one observed wins.
const (
	StopAssetCap    = "asset-cap"
	StopZipTooLarge = "zip-too-large"
	StopTimeout     = "timeout"
	StopStopped     = "stopped"
)

// Config bounds a download run. Zero MaxAssets or MaxBytes means unlimited;
// a zero Deadline means none.
type Config struct {
	Concurrency int
	MaxAssets   int
	MaxBytes    int64
	Deadline    time.Time
	SkipVideo   bool
	PageURL     string
}

// Result of a run.
type Result struct {
	Map        *resource.Map
	Failures   []report.Failure
	Skipped    []report.Skip
	Bytes      int64
	StopReason string
}

// ProgressFunc receives (done, total) after every completion.
type ProgressFunc func(done, total int)

// Downloader runs one download pass.
type Downloader struct {
	fetch    fetcher.Fetcher
	cfg      Config
	skip     []SkipRule
	progress ProgressFunc
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	m          *resource.Map
	failures   []report.Failure
	skipped    []report.Skip
	bytes      int64
	stopReason string
	cancel     context.CancelFunc

	progressMu sync.Mutex
	done       int
	total      int
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithProgress sets the progress callback. It is called from worker
// goroutines, one call at a time.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) { d.progress = fn }
}

// WithClock overrides the clock used for the deadline check.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

// WithSkipRules replaces the default skip rules.
func WithSkipRules(rules []SkipRule) Option {
	return func(d *Downloader) { d.skip = rules }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// New creates a Downloader. A Downloader is single-use.
func New(f fetcher.Fetcher, cfg Config, opts ...Option) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	d := &Downloader{
		fetch:  f,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		m:      resource.NewMap(),
	}
	if cfg.SkipVideo {
		d.skip = DefaultSkipRules
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run downloads urls in discovery order with at most Concurrency fetches in
// flight. Per-asset failures are recorded, never returned. Cancelling ctx
// stops the run with StopStopped.
func (d *Downloader) Run(ctx context.Context, urls []string) *Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !d.cfg.Deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, d.cfg.Deadline)
		defer cancelDeadline()
	}
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.total = len(urls)

	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var g errgroup.Group

	for _, u := range urls {
		if reason := d.checkStop(ctx); reason != "" {
			d.markStop(reason)
			break
		}
		if reason := d.skipReason(u); reason != "" {
			d.mu.Lock()
			d.skipped = append(d.skipped, report.Skip{URL: u, Reason: reason})
			d.mu.Unlock()
			d.completed()
			continue
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			d.markStop(d.cancelReason(ctx))
			break
		}
		if d.stopped() {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			d.one(ctx, runCtx, u)
			return nil
		})
	}
	g.Wait()

	if !d.stopped() && ctx.Err() != nil {
		d.markStop(StopStopped)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("download: finished",
		"assets", d.m.Len(), "failed", len(d.failures), "skipped", len(d.skipped),
		"bytes", d.bytes, "stop_reason", d.stopReason)
	return &Result{
		Map:        d.m,
		Failures:   d.failures,
		Skipped:    d.skipped,
		Bytes:      d.bytes,
		StopReason: d.stopReason,
	}
}

func (d *Downloader) one(parent, ctx context.Context, u string) {
	defer d.completed()

	resp, err := d.fetch.Fetch(ctx, fetcher.Request{URL: u, PageURL: d.cfg.PageURL})
	if err != nil {
		if ctx.Err() != nil {
			// Aborted by a stop condition, not a per-asset failure.
			if !d.stopped() {
				d.markStop(d.cancelReason(parent))
			}
			return
		}
		d.mu.Lock()
		d.failures = append(d.failures, report.Failure{URL: u, Status: fetcher.Status(err), Reason: err.Error()})
		d.mu.Unlock()
		d.logger.Debug("download: failed", "url", u, "error", err)
		return
	}

	n := int64(len(resp.Body))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopReason != "" {
		return
	}
	if d.cfg.MaxAssets > 0 && d.m.Len() >= d.cfg.MaxAssets {
		d.markStopLocked(StopAssetCap)
		return
	}
	d.bytes += n
	if d.cfg.MaxBytes > 0 && d.bytes > d.cfg.MaxBytes {
		d.failures = append(d.failures, report.Failure{URL: u, Reason: StopZipTooLarge})
		d.markStopLocked(StopZipTooLarge)
		return
	}
	d.m.Put(u, resp.MediaType, resp.Body)
}

// checkStop evaluates the stop conditions before a dispatch.
func (d *Downloader) checkStop(parent context.Context) string {
	if parent.Err() != nil {
		return StopStopped
	}
	if d.deadlinePassed() {
		return StopTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopReason != "" {
		return d.stopReason
	}
	if d.cfg.MaxAssets > 0 && d.m.Len() >= d.cfg.MaxAssets {
		return StopAssetCap
	}
	return ""
}

func (d *Downloader) deadlinePassed() bool {
	return !d.cfg.Deadline.IsZero() && !d.now().Before(d.cfg.Deadline)
}

// cancelReason explains why the run context ended.
func (d *Downloader) cancelReason(parent context.Context) string {
	if parent.Err() != nil {
		return StopStopped
	}
	return StopTimeout
}

func (d *Downloader) stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopReason != ""
}

func (d *Downloader) markStop(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markStopLocked(reason)
}

// markStopLocked records the first stop reason and aborts in-flight fetches.
func (d *Downloader) markStopLocked(reason string) {
	if d.stopReason == "" {
		d.stopReason = reason
		d.logger.Info("download: stopping", "reason", reason)
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Downloader) completed() {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()
	d.done++
	if d.progress != nil {
		d.progress(d.done, d.total)
	}
}

func (d *Downloader) skipReason(u string) string {
	for _, r := range d.skip {
		if r.Match(u) {
			return r.Reason
		}
	}
	return ""
}

// SkipRule marks URLs that are recorded as skipped instead of fetched.
type SkipRule struct {
	Reason     string
	Extensions []string // lowercase, matched against the URL path suffix
}

// Match reports whether u's path ends with one of the rule's extensions.
func (r SkipRule) Match(u string) bool {
	pu, err := url.Parse(u)
	if err != nil {
		return false
	}
	p := strings.ToLower(pu.Path)
	for _, ext := range r.Extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// DefaultSkipRules skip video payloads.
var DefaultSkipRules = []SkipRule{
	{Reason: "video", Extensions: []string{".mp4", ".webm", ".m4v", ".mov", ".ogv", ".m3u8", ".ts", ".m2ts", ".3gp"}},
}
