// Package backend provides translation backends for the in-page pipeline.
//
// Request/response services (local functions, HTTP endpoints) are written
// as a Handler, wrapped with Middleware, and driven by a Dispatcher that
// turns them into the asynchronous Backend the pipeline expects. Streaming
// services (WebSocket) implement Backend directly.
package backend

import (
	"context"
	"strings"

	"github.com/hazyhaar/overlay/inpage/message"
)

// Backend is the asynchronous contract the pipeline consumes. Send queues a
// request and returns; responses arrive through deliver in any order.
type Backend interface {
	Open(ctx context.Context, deliver func(message.Response)) error
	Send(ctx context.Context, req message.Request) error
	Close() error
}

// Handler translates one request synchronously.
type Handler func(ctx context.Context, req message.Request) (message.Response, error)

// Middleware wraps a Handler with cross-cutting behaviour.
type Middleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Map returns a Handler that applies fn to the request text.
func Map(fn func(string) string) Handler {
	return func(_ context.Context, req message.Request) (message.Response, error) {
		return message.Response{
			AttrID:              req.AttrID,
			TranslatedParagraph: fn(req.Text),
		}, nil
	}
}

// Echo returns the text unchanged. Useful for dry runs.
func Echo() Handler {
	return Map(func(s string) string { return s })
}

// Prefix marks every chunk with p, e.g. "[fr] ".
func Prefix(p string) Handler {
	return Map(func(s string) string { return p + s })
}

// Upper upper-cases every chunk. Handy to eyeball which parts of a page
// were picked up.
func Upper() Handler {
	return Map(strings.ToUpper)
}
