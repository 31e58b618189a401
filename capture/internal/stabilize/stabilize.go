// CLAUDE:SUMMARY Scrolls a page to its bottom until content height stops growing, bounded by deadline and iteration cap.
// Package stabilize drives a dynamically growing page to a quiescent state.
// Quiescence is measured on content height, not on DOM mutations, so live
// widgets do not prevent success.
package stabilize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrTimeout means the wall-clock deadline passed before the height settled.
	ErrTimeout = errors.New("stabilize: deadline exceeded")
	// ErrStopped means the context was cancelled.
	ErrStopped = errors.New("stabilize: stopped")
)

// Reason annotations on a successful Result.
const (
	ReasonIdle    = "idle"
	ReasonIterCap = "iter-cap"
)

// Scroller is the part of a document the stabilizer needs.
type Scroller interface {
	ScrollToBottom(ctx context.Context) error
	ContentHeight(ctx context.Context) (float64, error)
}

// Config bounds a stabilization run.
type Config struct {
	Interval      time.Duration // polling period, default 300ms
	Idle          time.Duration // growth-free period that counts as stable
	MaxIterations int
	Epsilon       float64 // height growth ignored below this, default 4px
	Deadline      time.Time
}

// Result of a run.
type Result struct {
	Stabilized  bool
	Reason      string
	Iterations  int
	FinalHeight float64
}

// Stabilizer runs the scroll/sample loop.
type Stabilizer struct {
	cfg    Config
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

// Option configures a Stabilizer.
type Option func(*Stabilizer)

// WithClock injects the clock and the sleep function.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(s *Stabilizer) {
		s.now = now
		s.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stabilizer) { s.logger = l }
}

// New returns a Stabilizer with defaults applied to cfg.
func New(cfg Config, opts ...Option) *Stabilizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Millisecond
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 2 * time.Second
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 4
	}
	s := &Stabilizer{cfg: cfg, now: time.Now, sleep: sleepCtx}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run scrolls until no sample has grown by more than Epsilon over its
// predecessor for Idle.
// Reaching MaxIterations succeeds with ReasonIterCap. The returned Result is
// filled even on error.
func (s *Stabilizer) Run(ctx context.Context, doc Scroller) (Result, error) {
	var res Result
	prev := -1.0
	lastChange := s.now()

	for {
		if !s.cfg.Deadline.IsZero() && !s.now().Before(s.cfg.Deadline) {
			res.Reason = "timeout"
			return res, ErrTimeout
		}
		if ctx.Err() != nil {
			res.Reason = "stopped"
			return res, ErrStopped
		}

		res.Iterations++
		if err := doc.ScrollToBottom(ctx); err != nil {
			return res, s.fail(ctx, &res, "scroll", err)
		}
		h, err := doc.ContentHeight(ctx)
		if err != nil {
			return res, s.fail(ctx, &res, "height", err)
		}
		res.FinalHeight = h
		if h-prev > s.cfg.Epsilon {
			lastChange = s.now()
		}
		prev = h

		if s.now().Sub(lastChange) >= s.cfg.Idle {
			res.Stabilized = true
			res.Reason = ReasonIdle
			s.logger.Debug("stabilize: settled", "iterations", res.Iterations, "height", h)
			return res, nil
		}
		if res.Iterations >= s.cfg.MaxIterations {
			res.Stabilized = true
			res.Reason = ReasonIterCap
			s.logger.Info("stabilize: iteration cap reached", "iterations", res.Iterations, "height", h)
			return res, nil
		}

		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			res.Reason = "stopped"
			return res, ErrStopped
		}
	}
}

func (s *Stabilizer) fail(ctx context.Context, res *Result, op string, err error) error {
	if ctx.Err() != nil {
		res.Reason = "stopped"
		return ErrStopped
	}
	res.Reason = "error"
	return fmt.Errorf("stabilize: %s: %w", op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
