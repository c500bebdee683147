package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/overlay/inpage/message"
)

// maxResponseBody caps what is read from a remote endpoint (10 MiB).
const maxResponseBody int64 = 10 << 20

type httpBackend struct {
	endpoint string
	client   *http.Client
	header   http.Header
}

// HTTPOption configures the HTTP handler.
type HTTPOption func(*httpBackend)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *httpBackend) { h.client = c }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(h *httpBackend) { h.header.Set(key, value) }
}

// HTTP returns a Handler that POSTs each request as JSON to endpoint and
// decodes the JSON response. The endpoint may omit attrId in its reply.
func HTTP(endpoint string, opts ...HTTPOption) Handler {
	h := &httpBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		header:   make(http.Header),
	}
	for _, o := range opts {
		o(h)
	}
	return h.call
}

func (h *httpBackend) call(ctx context.Context, req message.Request) (message.Response, error) {
	body, err := message.MarshalRequest(&req)
	if err != nil {
		return message.Response{}, fmt.Errorf("backend/http: encode: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return message.Response{}, fmt.Errorf("backend/http: create request: %w", err)
	}
	for k, v := range h.header {
		hreq.Header[k] = v
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(hreq)
	if err != nil {
		return message.Response{}, fmt.Errorf("backend/http: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return message.Response{}, fmt.Errorf("backend/http: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return message.Response{}, &ErrStatus{Endpoint: h.endpoint, Code: resp.StatusCode, Body: string(data)}
	}

	var out message.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return message.Response{}, fmt.Errorf("backend/http: decode: %w", err)
	}
	out.AttrID = req.AttrID
	return out, nil
}
