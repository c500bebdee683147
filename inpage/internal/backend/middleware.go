package backend

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/overlay/inpage/message"
)

// Logging logs every call with its duration.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req message.Request) (message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "backend: call failed",
					"attr_id", req.AttrID.String(),
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "backend: call ok",
					"attr_id", req.AttrID.String(),
					"duration_ms", dur.Milliseconds(),
					"chars", len(req.Text))
			}
			return resp, err
		}
	}
}

// WithTimeout bounds each call. Zero disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req message.Request) (message.Response, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// WithRetry retries failed calls with exponential backoff. It gives up
// early on caller cancellation, an open circuit, or a non-temporary status.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req message.Request) (message.Response, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || !retryable(err) {
					return message.Response{}, err
				}
				if attempt == maxRetries {
					break
				}

				wait := baseBackoff * (1 << uint(attempt))
				if logger != nil {
					logger.WarnContext(ctx, "backend: retrying call",
						"attr_id", req.AttrID.String(),
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return message.Response{}, lastErr
				case <-time.After(wait):
				}
			}
			return message.Response{}, lastErr
		}
	}
}

func retryable(err error) bool {
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var status *ErrStatus
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}

// Recovery turns a handler panic into an ErrPanic.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req message.Request) (resp message.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "backend: handler panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}
