package shield

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/overlay/kit"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAPIStack_HeadersAndRequestID(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range APIStack(Options{Logger: quiet()}) {
		r.Use(mw)
	}
	var gotID, gotTransport string
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("HEAD: got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if !strings.HasPrefix(gotID, "req_") || w.Header().Get("X-Request-ID") != gotID {
		t.Errorf("request id: ctx=%q header=%q", gotID, w.Header().Get("X-Request-ID"))
	}
	if gotTransport != "http" {
		t.Errorf("transport: got %q", gotTransport)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if gotID != "caller-1" {
		t.Errorf("caller id should be kept, got %q", gotID)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	if w.Code != http.StatusNoContent {
		t.Errorf("small body: got %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too long")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: got %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other client has its own bucket")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("one token refilled after 1s")
	}

	now = now.Add(clientTTL + time.Second)
	rl.Allow("c")
	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	if n != 1 {
		t.Errorf("idle clients should be collected, have %d", n)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	h := NewRateLimiter(0.5, 1).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first: got %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "2" {
		t.Errorf("second: got %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
}

func TestRequestID_AttachesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	h := RequestID(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetLogger(r.Context()).Info("handled")
	}))
	req := httptest.NewRequest(http.MethodGet, "/translate", nil)
	req.Header.Set("X-Request-ID", "trace-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "request_id=trace-7") || !strings.Contains(out, "path=/translate") {
		t.Errorf("log line: %s", out)
	}
	if GetLogger(context.Background()) != slog.Default() {
		t.Error("missing logger should fall back to slog.Default")
	}
}
