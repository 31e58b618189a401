// CLAUDE:SUMMARY Output backends for capture session events: stdout JSONL, webhook, in-process callback, websocket hub and a fan-out router.
// Package sink delivers capture session events.
package sink

import (
	"context"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// Sink receives status, progress and terminal events of capture sessions.
type Sink interface {
	Send(ctx context.Context, ev report.Event) error
	Close() error
}
