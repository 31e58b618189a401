// CLAUDE:SUMMARY Polls a version token (settings/denylist fingerprint), debounces changes and runs a reload action.
// Package watch runs the "poll, detect change, debounce, reload" loop that
// keeps a serving pagesnap in sync with its SQLite overrides.
//
//	w := watch.New(st.Fingerprint, watch.Options{Interval: time.Second, Debounce: 500 * time.Millisecond})
//	go w.OnChange(ctx, func() error { return capt.Reload(ctx, base) })
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean the watched
// state changed.
type Detector func(ctx context.Context) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval is the polling frequency. Default 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a Detector. It is safe for concurrent use.
type Watcher struct {
	detect Detector
	opts   Options

	version atomic.Int64

	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(detect Detector, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{detect: detect, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Version returns the last token whose reload succeeded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled. The first token is taken as the
// baseline; action runs for each later change once the debounce window
// passes. A failed action leaves the version unchanged, so the next poll
// retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.detect(ctx); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending, hasPending := int64(0), false

	log.Debug("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.detect(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || (hasPending && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, hasPending = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				hasPending = false
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C
			log.Debug("watch: change detected, debouncing", "pending_version", cur)

		case <-debounceCh:
			debounceCh = nil
			if hasPending {
				w.fire(action, pending)
				hasPending = false
			}
		}
	}
}

// fire runs action and records ver on success.
func (w *Watcher) fire(action func() error, ver int64) {
	log := w.opts.Logger
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))
	w.version.Store(ver)
	log.Info("watch: reloaded", "version", ver, "duration", elapsed)
}
