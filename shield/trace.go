package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/overlay/idgen"
	"github.com/hazyhaar/overlay/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestID assigns an id to each request (or keeps a caller-supplied
// X-Request-ID), stores it under kit.RequestIDKey, echoes it in the
// response, and attaches a per-request logger under LoggerKey.
func RequestID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)

			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
