// Package shield provides the HTTP middleware stack of the inpage API:
// security headers, body limits, request ids with a per-request logger,
// and per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.Options{MaxBodyBytes: 5 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Options tunes APIStack.
type Options struct {
	MaxBodyBytes int64
	// RatePerSecond and Burst enable per-client rate limiting when > 0.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

// APIStack returns the standard middleware stack, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID, then the rate limiter
// when configured.
func APIStack(o Options) []func(http.Handler) http.Handler {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(o.MaxBodyBytes),
		RequestID(o.Logger),
	}
	if o.RatePerSecond > 0 {
		stack = append(stack, NewRateLimiter(o.RatePerSecond, o.Burst).Middleware)
	}
	return stack
}

// HeadToGet lets GET routes answer HEAD requests; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger retrieves the per-request logger from ctx, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
