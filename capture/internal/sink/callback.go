package sink

import (
	"context"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// EventFunc is called for each event.
type EventFunc func(ctx context.Context, ev report.Event) error

// Callback delivers events via a Go function call, for embedders that run
// captures in-process.
type Callback struct {
	fn EventFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev report.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
