package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/overlay/inpage/message"
)

func req(key message.Key, text string) message.Request {
	return message.Request{
		Text:   text,
		Type:   message.TypeInPage,
		AttrID: message.AttrID{Tier: message.InViewport, Key: key},
	}
}

func collect(n int) (func(message.Response), <-chan message.Response) {
	ch := make(chan message.Response, n)
	return func(r message.Response) { ch <- r }, ch
}

func waitResp(t *testing.T, ch <-chan message.Response) message.Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
		return message.Response{}
	}
}

func TestMapHandlers(t *testing.T) {
	ctx := context.Background()
	r, _ := Prefix("[fr] ")(ctx, req(1, "hello"))
	if r.TranslatedParagraph != "[fr] hello" || r.AttrID.Key != 1 {
		t.Errorf("prefix: got %+v", r)
	}
	r, _ = Upper()(ctx, req(2, "hello"))
	if r.TranslatedParagraph != "HELLO" {
		t.Errorf("upper: got %q", r.TranslatedParagraph)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, r message.Request) (message.Response, error) {
				order = append(order, name)
				return next(ctx, r)
			}
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(Echo())
	h(context.Background(), req(1, "x"))
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order: got %v", order)
	}
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(time.Minute),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(func() time.Time { return now }),
	)
	failing := func(context.Context, message.Request) (message.Response, error) {
		return message.Response{}, errors.New("boom")
	}
	h := WithBreaker("svc", cb)(failing)

	h(context.Background(), req(1, "x"))
	h(context.Background(), req(1, "x"))
	if cb.State() != BreakerOpen {
		t.Fatalf("state: got %s, want open", cb.State())
	}
	_, err := h(context.Background(), req(1, "x"))
	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Backend != "svc" {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}

	now = now.Add(2 * time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state after reset timeout: got %s", cb.State())
	}
	ok := WithBreaker("svc", cb)(Echo())
	if _, err := ok(context.Background(), req(1, "x")); err != nil {
		t.Fatal(err)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("state after probe success: got %s", cb.State())
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, r message.Request) (message.Response, error) {
		if calls.Add(1) < 3 {
			return message.Response{}, errors.New("transient")
		}
		return Echo()(ctx, r)
	}
	h := WithRetry(3, time.Millisecond, nil)(flaky)
	resp, err := h(context.Background(), req(1, "x"))
	if err != nil || resp.TranslatedParagraph != "x" {
		t.Fatalf("got %+v, %v", resp, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestRetry_StopsOnPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	bad := func(context.Context, message.Request) (message.Response, error) {
		calls.Add(1)
		return message.Response{}, &ErrStatus{Code: http.StatusBadRequest}
	}
	h := WithRetry(5, time.Millisecond, nil)(bad)
	if _, err := h(context.Background(), req(1, "x")); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(testLogger())(func(context.Context, message.Request) (message.Response, error) {
		panic("kaboom")
	})
	_, err := h(context.Background(), req(1, "x"))
	var p *ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("got %v, want ErrPanic", err)
	}
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		var in message.Request
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"translatedParagraph": "FR:" + in.Text,
		})
	}))
	defer srv.Close()

	h := HTTP(srv.URL, WithHeader("X-Api-Key", "secret"))
	resp, err := h(context.Background(), req(7, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.TranslatedParagraph != "FR:hello" || resp.AttrID.Key != 7 {
		t.Errorf("got %+v", resp)
	}

	_, err = HTTP(srv.URL)(context.Background(), req(1, "x"))
	var st *ErrStatus
	if !errors.As(err, &st) || st.Code != http.StatusUnauthorized {
		t.Errorf("got %v, want 401 ErrStatus", err)
	}
}

func TestDispatcher_DeliversAsync(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Handler: Prefix("fr:"), Workers: 2})
	if err := d.Send(context.Background(), req(1, "x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send before open: got %v", err)
	}

	deliver, ch := collect(8)
	if err := d.Open(context.Background(), deliver); err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Open(context.Background(), deliver); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second open: got %v", err)
	}

	for k := message.Key(1); k <= 3; k++ {
		if err := d.Send(context.Background(), req(k, "t")); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[message.Key]bool{}
	for range 3 {
		r := waitResp(t, ch)
		if r.TranslatedParagraph != "fr:t" {
			t.Errorf("got %q", r.TranslatedParagraph)
		}
		seen[r.AttrID.Key] = true
	}
	if len(seen) != 3 {
		t.Errorf("keys seen: %v", seen)
	}
}

func TestDispatcher_FailureIsDropped(t *testing.T) {
	failing := func(context.Context, message.Request) (message.Response, error) {
		return message.Response{}, errors.New("no")
	}
	d := NewDispatcher(DispatcherConfig{Handler: failing, Logger: testLogger()})
	deliver, ch := collect(1)
	d.Open(context.Background(), deliver)
	d.Send(context.Background(), req(1, "x"))
	select {
	case r := <-ch:
		t.Fatalf("failed call delivered %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	d.Close()
	if err := d.Send(context.Background(), req(2, "x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
}

func TestDispatcher_BacklogIsKept(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, r message.Request) (message.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return message.Response{}, ctx.Err()
		}
		return Echo()(ctx, r)
	}
	const n = 50
	d := NewDispatcher(DispatcherConfig{Handler: slow, Workers: 1})
	deliver, ch := collect(n)
	d.Open(context.Background(), deliver)
	defer d.Close()

	for k := message.Key(1); k <= n; k++ {
		if err := d.Send(context.Background(), req(k, "x")); err != nil {
			t.Fatalf("send %d: %v", k, err)
		}
	}
	close(release)

	// One worker drains the backlog in send order.
	for k := message.Key(1); k <= n; k++ {
		if r := waitResp(t, ch); r.AttrID.Key != k {
			t.Fatalf("response %d: got key %d", k, r.AttrID.Key)
		}
	}
}

func TestRequestQueue_SharedByWorkers(t *testing.T) {
	q := newRequestQueue()
	for k := message.Key(1); k <= 20; k++ {
		q.push(req(k, "x"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := map[message.Key]int{}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := q.pop(ctx)
				if !ok {
					return
				}
				mu.Lock()
				got[r.AttrID.Key]++
				done := len(got) == 20
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}
	wg.Wait()
	if len(got) != 20 || q.len() != 0 {
		t.Fatalf("popped %d distinct, %d left", len(got), q.len())
	}
	for k, c := range got {
		if c != 1 {
			t.Errorf("key %d popped %d times", k, c)
		}
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Handler:        Echo(),
		Workers:        1,
		CharsPerSecond: 1000,
		Burst:          100,
	})
	deliver, ch := collect(3)
	d.Open(context.Background(), deliver)
	defer d.Close()

	start := time.Now()
	text := strings.Repeat("a", 100)
	for k := message.Key(1); k <= 3; k++ {
		d.Send(context.Background(), req(k, text))
	}
	for range 3 {
		waitResp(t, ch)
	}
	if el := time.Since(start); el < 150*time.Millisecond {
		t.Errorf("300 chars at 1000/s with burst 100 took %v, want >= 150ms", el)
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var in message.Request
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, []byte("not json"))
			conn.WriteJSON(message.Response{AttrID: in.AttrID, TranslatedParagraph: "ws:" + in.Text})
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(WebSocketConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger: testLogger(),
	})
	deliver, ch := collect(4)
	if err := ws.Open(context.Background(), deliver); err != nil {
		t.Fatal(err)
	}
	long := req(5, "bonjour")
	long.AttrID.Part = 2
	if err := ws.Send(context.Background(), long); err != nil {
		t.Fatal(err)
	}
	r := waitResp(t, ch)
	if r.TranslatedParagraph != "ws:bonjour" || r.AttrID != long.AttrID {
		t.Errorf("got %+v", r)
	}
	if err := ws.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ws.Send(context.Background(), long); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if got := strings.Join(r.Types(), ","); got != "echo,http,prefix,upper,websocket" {
		t.Errorf("types: got %s", got)
	}
	var unknown *ErrUnknownType
	if _, err := r.Build(Config{Type: "grpc"}, nil); !errors.As(err, &unknown) {
		t.Errorf("unknown type: got %v", err)
	}
	if _, err := r.Build(Config{Type: "http"}, nil); err == nil {
		t.Error("http without url should fail")
	}

	b, err := r.Build(Config{Type: "prefix", Prefix: "[x] "}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	deliver, ch := collect(1)
	if err := b.Open(context.Background(), deliver); err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	b.Send(context.Background(), req(1, "y"))
	if got := waitResp(t, ch).TranslatedParagraph; got != "[x] y" {
		t.Errorf("got %q", got)
	}

	c1 := r.breaker(Config{URL: "http://a"})
	c2 := r.breaker(Config{URL: "http://a"})
	if c1 != c2 {
		t.Error("breakers must be shared per endpoint")
	}
}
