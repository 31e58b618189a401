package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// Router fans out events to all configured sinks. One sink error does not
// block the others; errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. It must not be called concurrently with Send.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) Send(ctx context.Context, ev report.Event) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, ev); err != nil {
			r.logger.Warn("sink: send failed", "session_id", ev.SessionID, "type", ev.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
