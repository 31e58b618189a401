package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/pagesnap/capture/internal/sink"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// Sink is the output interface for capture events.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. A nil w means os.Stdout.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink delivers events to fn in-process.
func NewCallbackSink(fn func(ctx context.Context, ev report.Event) error) Sink {
	return sink.NewCallback(fn)
}

// BuildSinks creates the sinks named by cfg.
func BuildSinks(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, logger))
		default:
			return nil, fmt.Errorf("capture: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
