package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/pagesnap/idgen"
	"github.com/hazyhaar/pagesnap/kit"
)

// RequestID reuses the caller's X-Request-ID or mints one, then stores it
// with kit.WithRequestID, echoes it in the response and attaches a
// per-request logger under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	gen := idgen.Prefixed("req_", idgen.Default)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = gen()
		}
		ctx := kit.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request", "remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
