// CLAUDE:SUMMARY Capture orchestrator: session admission, staged pipeline run, terminal bookkeeping, status lookups.
// Package capture turns a live web page into a self-contained offline
// archive. A Capturer admits at most one session per target, drives it
// through gate, stabilization, collection, optional redaction, download,
// rewrite and packaging, and reports progress to its sinks.
//
// The browser is abstracted behind page.Opener; cmd/pagesnap wires the rod
// implementation, tests wire fakes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/pagesnap/capture/internal/config"
	"github.com/hazyhaar/pagesnap/capture/internal/pack"
	"github.com/hazyhaar/pagesnap/capture/internal/page"
	"github.com/hazyhaar/pagesnap/capture/internal/session"
	"github.com/hazyhaar/pagesnap/capture/internal/sink"
	"github.com/hazyhaar/pagesnap/capture/internal/store"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// State of a capture session.
type State = session.State

// Error is the terminal error of a failed or stopped session.
type Error = session.Error

// Session states.
const (
	StateGating      = session.Gating
	StateStabilizing = session.Stabilizing
	StateCollecting  = session.Collecting
	StateRedacting   = session.Redacting
	StateDownloading = session.Downloading
	StateRewriting   = session.Rewriting
	StatePackaging   = session.Packaging
	StateDone        = session.Done
	StateFailed      = session.Failed
	StateStopped     = session.Stopped
)

var (
	// ErrAlreadyRunning is returned when a capture of the same target is active.
	ErrAlreadyRunning = session.ErrAlreadyRunning
	// ErrBusy is returned when the concurrent session limit is reached.
	ErrBusy = errors.New("capture: too many active sessions")
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("capture: session not found")
)

// retained is how many finished sessions stay queryable in memory.
const retained = 64

// Result is the outcome of one session.
type Result struct {
	SessionID   string         `json:"session_id"`
	URL         string         `json:"url"`
	State       State          `json:"state"`
	Reason      string         `json:"reason,omitempty"`
	Message     string         `json:"message,omitempty"`
	Report      *report.Report `json:"report,omitempty"`
	ArchiveName string         `json:"archive_name,omitempty"`
	ArchivePath string         `json:"archive_path,omitempty"`
	Archive     []byte         `json:"-"`

	err *Error
}

// Err returns the terminal error, nil when the capture succeeded.
func (r *Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Status is a point-in-time view of a session.
type Status struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	State    State     `json:"state"`
	Text     string    `json:"text,omitempty"`
	Done     int       `json:"done"`
	Total    int       `json:"total"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended,omitzero"`
	Coverage int       `json:"coverage_pct,omitempty"`
}

// entry tracks one session for status queries.
type entry struct {
	sess *session.Session

	mu     sync.Mutex
	text   string
	done   int
	total  int
	result *Result
}

func (e *entry) status() *Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := &Status{
		ID:      e.sess.ID,
		URL:     e.sess.Target,
		State:   e.sess.State(),
		Text:    e.text,
		Done:    e.done,
		Total:   e.total,
		Started: e.sess.Started,
		Ended:   e.sess.Ended(),
	}
	if se := e.sess.Err(); se != nil {
		st.Reason = se.Reason
		st.Message = se.Message
	}
	if e.result != nil && e.result.Report != nil {
		st.Coverage = e.result.Report.Stats.CoveragePct
	}
	return st
}

// Capturer runs capture sessions. It is safe for concurrent use.
type Capturer struct {
	guard    *session.Guard
	opener   page.Opener
	archiver pack.Archiver
	sinks    []sink.Sink
	router   *sink.Router
	hub      *sink.Hub
	store    *store.Store
	out      *Output
	client   *http.Client
	now      func() time.Time
	metrics  *Metrics
	logger   *slog.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config
	deny  *config.Denylist

	mu       sync.Mutex
	sessions map[string]*entry
	finished []string

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithOpener sets the document opener (the browser).
func WithOpener(o page.Opener) Option {
	return func(c *Capturer) { c.opener = o }
}

// WithArchiver overrides the ZIP writer.
func WithArchiver(a pack.Archiver) Option {
	return func(c *Capturer) { c.archiver = a }
}

// WithSink adds an event sink. Events reach it through a bounded queue with
// its own goroutine, so a slow or failing sink never stalls a capture.
func WithSink(s Sink) Option {
	return func(c *Capturer) { c.sinks = append(c.sinks, s) }
}

// WithStore records capture history and reads setting overrides.
func WithStore(s *store.Store) Option {
	return func(c *Capturer) { c.store = s }
}

// WithOutputDir writes finished archives under dir.
func WithOutputDir(dir string) Option {
	return func(c *Capturer) { c.out = &Output{Dir: dir} }
}

// WithHTTPClient sets the client used for resource fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Capturer) { c.client = hc }
}

// WithClock overrides the clock used for report and archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

// WithGuard replaces the session guard.
func WithGuard(g *session.Guard) Option {
	return func(c *Capturer) { c.guard = g }
}

// WithMetrics records capture counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Capturer) { c.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capturer) { c.logger = l }
}

// New creates a Capturer. A nil cfg means defaults.
func New(cfg *Config, opts ...Option) *Capturer {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Capturer{
		guard:    session.NewGuard(),
		archiver: pack.ZipArchiver{},
		hub:      sink.NewHub(64),
		client:   &http.Client{},
		now:      time.Now,
		logger:   slog.Default(),
		sessions: make(map[string]*entry),
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	routed := make([]sink.Sink, 0, len(c.sinks)+1)
	for _, s := range c.sinks {
		routed = append(routed, sink.NewQueue(s, sink.WithQueueLogger(c.logger)))
	}
	c.router = sink.NewRouter(c.logger, append(routed, c.hub)...)
	c.setConfig(cfg)
	return c
}

// setConfig installs cfg and compiles its denylist. Invalid patterns are
// logged and ignored.
func (c *Capturer) setConfig(cfg *Config) {
	deny, errs := config.CompileDenylist(cfg.Denylist)
	for _, err := range errs {
		c.logger.Warn("capture: invalid denylist pattern", "error", err)
	}
	c.cfgMu.Lock()
	c.cfg = cfg
	c.deny = deny
	c.cfgMu.Unlock()
}

func (c *Capturer) config() (*Config, *config.Denylist) {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg, c.deny
}

// Config returns the configuration in effect.
func (c *Capturer) Config() *Config {
	cfg, _ := c.config()
	return cfg
}

// Reload rebuilds the configuration from base plus the settings and denylist
// rows of the store. Running sessions keep the configuration they started
// with.
func (c *Capturer) Reload(ctx context.Context, base *Config) error {
	if c.store == nil {
		c.setConfig(base)
		return nil
	}
	cfg, err := LoadStoreOverrides(ctx, c.store, base)
	if err != nil {
		return fmt.Errorf("capture: reload: %w", err)
	}
	c.setConfig(cfg)
	c.logger.Info("capture: configuration reloaded", "denylist", len(cfg.Denylist))
	return nil
}

// Hub returns the in-process event hub for live subscribers.
func (c *Capturer) Hub() *sink.Hub { return c.hub }

// Start admits a session for target and runs it in the background. The
// session outlives ctx cancellation only through Stop; ctx values are not
// inherited.
func (c *Capturer) Start(ctx context.Context, target string) (*Status, error) {
	e, err := c.admit(target)
	if err != nil {
		return nil, err
	}
	go c.run(e)
	return e.status(), nil
}

// Capture runs a session for target to completion. Cancelling ctx stops
// the session.
func (c *Capturer) Capture(ctx context.Context, target string) (*Result, error) {
	e, err := c.admit(target)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, e.sess.Stop)
	defer stop()
	return c.run(e), nil
}

func (c *Capturer) admit(target string) (*entry, error) {
	cfg, _ := c.config()
	sess, err := c.guard.AcquireLimited(context.Background(), target, cfg.Server.MaxSessions)
	if errors.Is(err, session.ErrAtCapacity) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	e := &entry{sess: sess}
	c.mu.Lock()
	c.sessions[sess.ID] = e
	c.mu.Unlock()

	c.logger.Info("capture: session started", "session", sess.ID, "url", target)
	c.metrics.sessionStarted()
	if c.store != nil {
		rec := &store.Capture{ID: sess.ID, URL: target, State: string(sess.State()), StartedAt: sess.Started.UnixMilli()}
		if err := c.store.InsertCapture(context.Background(), rec); err != nil {
			c.logger.Warn("capture: record start", "session", sess.ID, "error", err)
		}
	}
	return e, nil
}

// Stop raises the stop flag of session id. Stopping a finished session is a
// no-op.
func (c *Capturer) Stop(id string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.sess.Stop()
	return nil
}

// Status returns the live or retained status of session id. Sessions that
// are no longer in memory are looked up in the store.
func (c *Capturer) Status(ctx context.Context, id string) (*Status, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	c.mu.Unlock()
	if ok {
		return e.status(), nil
	}
	if c.store == nil {
		return nil, ErrNotFound
	}
	rec, err := c.store.GetCapture(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("capture: status: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return statusFromRecord(rec), nil
}

// Result returns the result of a finished session still held in memory.
func (c *Capturer) Result(id string) (*Result, bool) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.result != nil
}

// Active returns the statuses of running sessions.
func (c *Capturer) Active() []*Status {
	var out []*Status
	for _, s := range c.guard.Active() {
		c.mu.Lock()
		e, ok := c.sessions[s.ID]
		c.mu.Unlock()
		if ok {
			out = append(out, e.status())
		}
	}
	return out
}

// History lists recorded captures, newest first.
func (c *Capturer) History(ctx context.Context, limit int) ([]*store.Capture, error) {
	if c.store == nil {
		return []*store.Capture{}, nil
	}
	recs, err := c.store.ListCaptures(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("capture: history: %w", err)
	}
	if recs == nil {
		recs = []*store.Capture{}
	}
	return recs, nil
}

// Close stops every running session and closes the sinks.
func (c *Capturer) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	for _, s := range c.guard.Active() {
		s.Stop()
		<-s.Done()
	}
	return c.router.Close()
}

// retain keeps the last finished sessions queryable and forgets older ones.
func (c *Capturer) retain(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, id)
	for len(c.finished) > retained {
		delete(c.sessions, c.finished[0])
		c.finished = c.finished[1:]
	}
}

func statusFromRecord(rec *store.Capture) *Status {
	st := &Status{
		ID:       rec.ID,
		URL:      rec.URL,
		State:    State(rec.State),
		Done:     rec.AssetsDownloaded,
		Total:    rec.AssetsTotal,
		Reason:   rec.Reason,
		Message:  rec.Message,
		Started:  time.UnixMilli(rec.StartedAt),
		Coverage: rec.CoveragePct,
	}
	if rec.FinishedAt > 0 {
		st.Ended = time.UnixMilli(rec.FinishedAt)
	}
	return st
}
