// CLAUDE:SUMMARY HTTP middleware for the pagesnap control surface: security headers, HEAD handling, request IDs, per-IP rate limits.
// Package shield provides the HTTP middleware stack placed in front of the
// pagesnap control API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(30, time.Minute).Middleware).Post("/api/captures", start)
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware applied to every control route:
// HeadToGet, SecurityHeaders, RequestID.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		RequestID,
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// HeadToGet lets HEAD reach routes registered with Get; net/http drops the
// body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
