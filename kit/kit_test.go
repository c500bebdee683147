package kit

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

// tag appends name to the request string on the way in and to the
// response on the way out.
func tag(name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req.(string)+">"+name)
			if err != nil {
				return nil, err
			}
			return resp.(string) + "<" + name, nil
		}
	}
}

func TestChain_OutermostFirst(t *testing.T) {
	upper := func(_ context.Context, req any) (any, error) {
		return strings.ToUpper(req.(string)), nil
	}

	resp, err := Chain(tag("log"), tag("auth"), tag("limit"))(upper)(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if want := "DOC>LOG>AUTH>LIMIT<limit<auth<log"; resp != want {
		t.Errorf("got %q, want %q", resp, want)
	}
}

func TestChain_Empty(t *testing.T) {
	var calls []string
	ep := func(_ context.Context, req any) (any, error) {
		calls = append(calls, req.(string))
		return nil, nil
	}
	Chain()(ep)(context.Background(), "only")
	if !slices.Equal(calls, []string{"only"}) {
		t.Errorf("calls: %v", calls)
	}
}

func TestChain_ErrorShortCircuits(t *testing.T) {
	errBackend := errors.New("backend down")
	failing := func(context.Context, any) (any, error) { return nil, errBackend }

	resp, err := Chain(tag("log"))(failing)(context.Background(), "doc")
	if !errors.Is(err, errBackend) || resp != nil {
		t.Errorf("got (%v, %v)", resp, err)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" || GetRequestID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("unexpected defaults")
	}

	ctx = WithRemoteAddr(WithRequestID(WithTransport(ctx, "mcp"), "mcp_1"), "10.0.0.1:5000")
	if got := GetTransport(ctx); got != "mcp" {
		t.Errorf("transport: %q", got)
	}
	if got := GetRequestID(ctx); got != "mcp_1" {
		t.Errorf("request id: %q", got)
	}
	if got := GetRemoteAddr(ctx); got != "10.0.0.1:5000" {
		t.Errorf("remote addr: %q", got)
	}
}
