// CLAUDE:SUMMARY Capture session aggregate: ordered state machine, stop flag, single terminal transition, re-entry guard.
// Package session sequences one capture run. A Session is created only by
// Guard.Acquire, which rejects a second concurrent capture of the same target.
package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesnap/idgen"
)

// State of a session.
type State string

const (
	Gating      State = "gating"
	Stabilizing State = "stabilizing"
	Collecting  State = "collecting"
	Redacting   State = "redacting"
	Downloading State = "downloading"
	Rewriting   State = "rewriting"
	Packaging   State = "packaging"
	Done        State = "done"
	Failed      State = "failed"
	Stopped     State = "stopped"
)

var next = map[State]State{
	Gating:      Stabilizing,
	Stabilizing: Collecting,
	Collecting:  Redacting,
	Redacting:   Downloading,
	Downloading: Rewriting,
	Rewriting:   Packaging,
	Packaging:   Done,
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool { return s == Done || s == Failed || s == Stopped }

// Session is one capture run.
type Session struct {
	ID      string
	Target  string
	Started time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	release func()
	done    chan struct{}

	mu    sync.Mutex
	state State
	err   *Error
	ended time.Time
}

// Context is cancelled by Stop and by the terminal transition.
func (s *Session) Context() context.Context { return s.ctx }

// Stop raises the cancellation flag and aborts in-flight work.
func (s *Session) Stop() {
	s.stopped.Store(true)
	s.cancel()
}

// Stopped reports whether Stop was called.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, nil while running or when Done.
func (s *Session) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ended returns the time of the terminal transition, zero while running.
func (s *Session) Ended() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Done is closed on the terminal transition.
func (s *Session) Done() <-chan struct{} { return s.done }

// Advance moves to the next stage. Only the immediate successor is accepted,
// except that Redacting may be skipped. A raised stop flag is reported as a
// stopped *Error so callers can terminate at the stage boundary.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrTerminated
	}
	if s.stopped.Load() {
		return StoppedError()
	}
	want := next[s.state]
	if to != want && !(s.state == Collecting && to == Downloading) {
		return ErrInvalidTransition
	}
	s.state = to
	return nil
}

// Finish performs the terminal transition: nil err means Done (valid only
// from Packaging), a stopped-kind error means Stopped, anything else Failed.
// It cancels the session context and releases the guard. Only the first call
// has an effect; it reports whether this call performed the transition.
func (s *Session) Finish(err error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	switch {
	case err == nil && s.state == Packaging:
		s.state = Done
	case err == nil:
		s.err = &Error{Kind: KindLoad, Reason: "incomplete", Message: "Capture ended early.", Err: ErrInvalidTransition}
		s.state = Failed
	default:
		s.err = AsError(err)
		if s.err.Kind == KindStopped {
			s.state = Stopped
		} else {
			s.state = Failed
		}
	}
	s.ended = time.Now()
	s.mu.Unlock()

	s.cancel()
	s.release()
	close(s.done)
	return true
}

// Guard admits at most one active session per normalized target.
type Guard struct {
	mu     sync.Mutex
	active map[string]*Session
	newID  idgen.Generator
	now    func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithIDGenerator overrides the session ID generator.
func WithIDGenerator(gen idgen.Generator) GuardOption {
	return func(g *Guard) { g.newID = gen }
}

// WithClock overrides the clock used for session start times.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates an empty guard.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		active: make(map[string]*Session),
		newID:  idgen.Prefixed("cap_", idgen.Default),
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Acquire creates the session for target. The returned session is in
// Gating; its context derives from parent.
func (g *Guard) Acquire(parent context.Context, target string) (*Session, error) {
	return g.AcquireLimited(parent, target, 0)
}

// AcquireLimited is Acquire with a cap on active sessions. The cap is checked
// under the same lock as the target, so concurrent callers cannot exceed it.
// max <= 0 means unlimited.
func (g *Guard) AcquireLimited(parent context.Context, target string, max int) (*Session, error) {
	key := Normalize(target)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return nil, ErrAlreadyRunning
	}
	if max > 0 && len(g.active) >= max {
		return nil, ErrAtCapacity
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:      g.newID(),
		Target:  target,
		Started: g.now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   Gating,
	}
	s.release = func() {
		g.mu.Lock()
		if g.active[key] == s {
			delete(g.active, key)
		}
		g.mu.Unlock()
	}
	g.active[key] = s
	return s, nil
}

// Active returns the running sessions.
func (g *Guard) Active() []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Session, 0, len(g.active))
	for _, s := range g.active {
		out = append(out, s)
	}
	return out
}

// Normalize is the guard key of a target: fragment dropped, scheme and host
// lowercased.
func Normalize(target string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return strings.TrimSpace(target)
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
