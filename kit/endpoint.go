// Package kit is the transport-neutral glue between inpage operations and
// the surfaces that expose them (HTTP, MCP).
package kit

import "context"

// Endpoint is one operation with a decoded request and an encodable response.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
