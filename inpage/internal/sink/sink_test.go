package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/overlay/dbopen"
	"github.com/hazyhaar/overlay/inpage/message"
)

func sampleBatch() message.CommitBatch {
	return message.CommitBatch{
		ID:     "b-1",
		PageID: "page",
		Seq:    1,
		Commits: []message.Commit{
			{Tier: message.InViewport, Key: 1, Node: 10, Text: "Bonjour"},
			{Tier: message.Hidden, Key: 2, Node: 11, Text: "Titre"},
		},
		Timestamp: 1700000000000,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), sampleBatch()); err != nil {
		t.Fatal(err)
	}
	if err := s.SendSummary(context.Background(), message.Summary{PageID: "page", Committed: 2}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var env struct {
		Type string              `json:"type"`
		Data message.CommitBatch `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "commit" || len(env.Data.Commits) != 2 || env.Data.Commits[1].Tier != message.Hidden {
		t.Errorf("first line: got %+v", env)
	}
	if !strings.Contains(lines[1], `"type":"summary"`) {
		t.Errorf("second line: %s", lines[1])
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	var got atomic.Int32
	ok := NewCallback(func(context.Context, message.CommitBatch) error {
		got.Add(1)
		return nil
	}, nil)
	boom := errors.New("boom")
	bad := NewCallback(func(context.Context, message.CommitBatch) error { return boom }, nil)

	r := NewRouter(quiet(), bad, ok)
	if err := r.Send(context.Background(), sampleBatch()); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if got.Load() != 1 {
		t.Error("healthy sink must still receive the batch")
	}
	if err := r.SendSummary(context.Background(), message.Summary{}); err != nil {
		t.Errorf("nil summary funcs: got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("len: got %d", r.Len())
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var env envelope
		json.NewDecoder(r.Body).Decode(&env)
		if env.Type != "commit" || r.Header.Get("Idempotency-Key") != sampleBatch().ID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet()))
	if err := wh.Send(context.Background(), sampleBatch()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet()))
	if err := wh.SendSummary(context.Background(), message.Summary{}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestWebhook_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet()))
	if err := wh.Send(context.Background(), sampleBatch()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestSQLite_Journal(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	s, err := NewSQLite(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Send(ctx, sampleBatch()); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, message.CommitBatch{ID: "empty"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SendSummary(ctx, message.Summary{PageID: "page", Committed: 2}); err != nil {
		t.Fatal(err)
	}

	var n int
	var tier, text string
	db.QueryRow(`SELECT COUNT(*) FROM inpage_commits WHERE page_id = 'page'`).Scan(&n)
	if n != 2 {
		t.Errorf("commits: got %d, want 2", n)
	}
	db.QueryRow(`SELECT tier, text FROM inpage_commits WHERE key = 2`).Scan(&tier, &text)
	if tier != "Hidden" || text != "Titre" {
		t.Errorf("row: tier=%q text=%q", tier, text)
	}
	var committed int
	db.QueryRow(`SELECT committed FROM inpage_runs WHERE page_id = 'page'`).Scan(&committed)
	if committed != 2 {
		t.Errorf("run committed: got %d", committed)
	}
}
