// CLAUDE:SUMMARY Transport-agnostic endpoint type, middleware chaining and a slog logging middleware.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one operation exposed by a control surface (HTTP or MCP).
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call with its transport, duration and error.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}
