package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// Queue delivers events to a wrapped Sink from its own goroutine. Send never
// blocks: when the buffer is full the event is dropped.
type Queue struct {
	sink    Sink
	ch      chan report.Event
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	base    context.Context
	abort   context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueSize sets the buffer length. Default: 256.
func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan report.Event, n)
		}
	}
}

// WithQueueTimeout bounds the delivery of one event. Default: 15s.
func WithQueueTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.timeout = d }
}

// WithQueueGrace bounds how long Close waits for buffered events before
// aborting delivery. Default: 5s.
func WithQueueGrace(d time.Duration) QueueOption {
	return func(q *Queue) { q.grace = d }
}

// WithQueueLogger sets a custom logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue starts the delivery goroutine for s.
func NewQueue(s Sink, opts ...QueueOption) *Queue {
	q := &Queue{
		sink:    s,
		ch:      make(chan report.Event, 256),
		timeout: 15 * time.Second,
		grace:   5 * time.Second,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.abort = context.WithCancel(context.Background())
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		ctx, cancel := context.WithTimeout(q.base, q.timeout)
		if err := q.sink.Send(ctx, ev); err != nil {
			q.logger.Warn("sink: delivery failed", "session_id", ev.SessionID, "type", ev.Type, "error", err)
		}
		cancel()
	}
}

func (q *Queue) Send(_ context.Context, ev report.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil
	}
	select {
	case q.ch <- ev:
	default:
		if q.dropped.Add(1) == 1 {
			q.logger.Warn("sink: queue full, dropping events", "session_id", ev.SessionID)
		}
	}
	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close flushes buffered events, aborting in-flight delivery once the grace
// period expires, then closes the wrapped sink.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	t := time.NewTimer(q.grace)
	defer t.Stop()
	select {
	case <-q.done:
	case <-t.C:
		q.abort()
		<-q.done
	}
	q.abort()
	return q.sink.Close()
}
