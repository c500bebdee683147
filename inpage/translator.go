package inpage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/overlay/dbopen"
	"github.com/hazyhaar/overlay/idgen"
	"github.com/hazyhaar/overlay/inpage/host"
	"github.com/hazyhaar/overlay/inpage/internal/backend"
	"github.com/hazyhaar/overlay/inpage/internal/browser"
	"github.com/hazyhaar/overlay/inpage/internal/htmltree"
	"github.com/hazyhaar/overlay/inpage/internal/pipeline"
	"github.com/hazyhaar/overlay/inpage/internal/sink"
	"github.com/hazyhaar/overlay/inpage/message"
)

// ErrEmptyDocument is returned by TranslateHTML for blank input.
var ErrEmptyDocument = errors.New("inpage: empty document")

// BackendFactory builds a fresh, unopened Backend for one run.
type BackendFactory func() (Backend, error)

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// WithBackendFactory replaces the configured backend.
func WithBackendFactory(f BackendFactory) Option {
	return func(t *Translator) { t.newBackend = f }
}

// WithSink adds a sink next to the configured ones.
func WithSink(s Sink) Option {
	return func(t *Translator) { t.extraSinks = append(t.extraSinks, s) }
}

// Result is the outcome of a static translation.
type Result struct {
	PageID  string          `json:"page_id"`
	HTML    string          `json:"html"`
	Batches int             `json:"batches"`
	Summary message.Summary `json:"summary"`
	// Settled is false when the settle timeout expired with translations
	// still outstanding.
	Settled bool `json:"settled"`
}

// Translator runs translation pipelines over documents and pages. It is
// safe for concurrent use; every call runs its own pipeline and backend.
type Translator struct {
	cfg        Config
	logger     *slog.Logger
	registry   *backend.Registry
	newBackend BackendFactory
	sanitize   func(string) string
	extraSinks []Sink
	sinks      *sink.Router
	dbs        []*sql.DB

	browserOnce sync.Once
	browser     *browser.Manager
}

// New builds a Translator from cfg. Sinks that need resources (SQLite
// files) are opened here and released by Close.
func New(cfg *Config, opts ...Option) (*Translator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	t := &Translator{
		cfg:      *cfg,
		registry: backend.NewRegistry(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.cfg.ApplyDefaults()

	switch t.cfg.Pipeline.Sanitize {
	case "page":
		t.sanitize = pagePolicy().Sanitize
	case "ugc":
		t.sanitize = bluemonday.UGCPolicy().Sanitize
	case "strict":
		t.sanitize = bluemonday.StrictPolicy().Sanitize
	}

	if t.newBackend == nil {
		bcfg := t.cfg.Backend
		t.newBackend = func() (Backend, error) {
			return t.registry.Build(bcfg, t.logger)
		}
	}

	sinks, err := t.buildSinks()
	if err != nil {
		t.closeDBs()
		return nil, err
	}
	t.sinks = sink.NewRouter(t.logger, append(sinks, t.extraSinks...)...)
	return t, nil
}

// pagePolicy is UGC plus the attributes pages use for presentation, so
// translated markup keeps its look.
func pagePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowAttrs("style", "lang", "dir", "title").Globally()
	return p
}

func (t *Translator) buildSinks() ([]Sink, error) {
	var out []Sink
	for _, sc := range t.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(os.Stdout))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(t.logger)}
			if sc.Retries > 0 {
				opts = append(opts, sink.WithWebhookRetries(sc.Retries))
			}
			out = append(out, sink.NewWebhook(sc.URL, opts...))
		case "sqlite":
			db, err := dbopen.Open(sc.Path, dbopen.WithMkdirAll())
			if err != nil {
				return nil, fmt.Errorf("inpage: sqlite sink: %w", err)
			}
			t.dbs = append(t.dbs, db)
			s, err := sink.NewSQLite(context.Background(), db)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		default:
			return nil, fmt.Errorf("inpage: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}

// Backends lists the backend types the Translator can build.
func (t *Translator) Backends() []string { return t.registry.Types() }

// Close releases the browser, sinks and owned databases.
func (t *Translator) Close() error {
	var errs []error
	if t.browser != nil {
		errs = append(errs, t.browser.Close())
	}
	errs = append(errs, t.sinks.Close())
	errs = append(errs, t.closeDBs())
	return errors.Join(errs...)
}

func (t *Translator) closeDBs() error {
	var errs []error
	for _, db := range t.dbs {
		errs = append(errs, db.Close())
	}
	t.dbs = nil
	return errors.Join(errs...)
}

// TranslateHTML translates a static document and returns it once every
// dispatched node is committed or the settle timeout expires.
func (t *Translator) TranslateHTML(ctx context.Context, doc string) (*Result, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, ErrEmptyDocument
	}
	tree, err := htmltree.ParseString(doc, htmltree.WithLayout(htmltree.Layout{
		ViewportWidth:  float64(t.cfg.Browser.ViewportWidth),
		ViewportHeight: float64(t.cfg.Browser.ViewportHeight),
	}))
	if err != nil {
		return nil, fmt.Errorf("inpage: parse: %w", err)
	}

	pageID := idgen.New()
	run, err := t.newRun(tree, pageID, "")
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- run.p.Run(runCtx) }()

	settle := time.NewTimer(t.cfg.Pipeline.SettleTimeout)
	defer settle.Stop()

	settled := false
	select {
	case <-run.p.Idle():
		settled = true
	case err := <-errCh:
		return nil, err
	case <-settle.C:
		t.logger.Warn("inpage: settle timeout", "page_id", pageID, "timeout", t.cfg.Pipeline.SettleTimeout)
	case <-ctx.Done():
	}
	cancel()
	if err := <-errCh; err != nil {
		return nil, err
	}

	out, err := tree.Render()
	if err != nil {
		return nil, err
	}
	sum := run.finish(context.WithoutCancel(ctx))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &Result{
		PageID:  pageID,
		HTML:    out,
		Batches: int(run.batches.Load()),
		Summary: sum,
		Settled: settled,
	}, nil
}

// ObservePage opens page in a browser tab and translates it live until ctx
// ends or page.Duration elapses. DOM mutations are picked up as they come.
func (t *Translator) ObservePage(ctx context.Context, page PageConfig) error {
	if page.URL == "" {
		return errors.New("inpage: page url is required")
	}
	if page.ID == "" {
		page.ID = idgen.New()
	}
	if page.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, page.Duration)
		defer cancel()
	}

	tab, err := t.browserManager().OpenTab(ctx, page.URL, page.ID)
	if err != nil {
		return err
	}
	defer tab.Close()

	// The final flush after ctx ends still writes into the tab.
	h, err := browser.Attach(context.WithoutCancel(ctx), tab.Page, t.logger.With("page_id", page.ID))
	if err != nil {
		return err
	}
	defer h.Close()

	run, err := t.newRun(h, page.ID, page.URL)
	if err != nil {
		return err
	}
	if err := run.p.Run(ctx); err != nil {
		return err
	}
	// ctx is done here; the summary still goes out.
	run.finish(context.WithoutCancel(ctx))
	return nil
}

func (t *Translator) browserManager() *browser.Manager {
	t.browserOnce.Do(func() {
		bc := t.cfg.Browser
		t.browser = browser.NewManager(browser.Config{
			RemoteURL:        bc.Remote,
			Bin:              bc.Bin,
			Headful:          bc.Headful,
			Stealth:          bc.Stealth,
			ResourceBlocking: bc.ResourceBlocking,
			ViewportWidth:    bc.ViewportWidth,
			ViewportHeight:   bc.ViewportHeight,
			NavigateTimeout:  bc.NavigateTimeout,
			Logger:           t.logger,
		})
	})
	return t.browser
}

type run struct {
	t       *Translator
	p       *pipeline.Pipeline
	pageID  string
	pageURL string
	started time.Time
	batches atomic.Int64
}

func (t *Translator) newRun(h host.Host, pageID, pageURL string) (*run, error) {
	be, err := t.newBackend()
	if err != nil {
		return nil, fmt.Errorf("inpage: backend: %w", err)
	}
	r := &run{t: t, pageID: pageID, pageURL: pageURL, started: time.Now()}
	pc := t.cfg.Pipeline
	r.p = pipeline.New(pipeline.Config{
		Host:        h,
		Backend:     be,
		ChunkSize:   pc.ChunkSize,
		CommitDelay: pc.CommitDelay,
		Kinds:       pc.Kinds,
		QueueSize:   pc.QueueSize,
		Sanitize:    t.sanitize,
		OnCommit:    r.commit,
		PageID:      pageID,
		PageURL:     pageURL,
		Logger:      t.logger.With("page_id", pageID),
	})
	return r, nil
}

func (r *run) commit(ctx context.Context, batch message.CommitBatch) {
	r.batches.Add(1)
	// The last batch is flushed after the run context is cancelled.
	if err := r.t.sinks.Send(context.WithoutCancel(ctx), batch); err != nil {
		r.t.logger.Warn("inpage: sink batch", "page_id", r.pageID, "seq", batch.Seq, "error", err)
	}
}

func (r *run) finish(ctx context.Context) message.Summary {
	st := r.p.Stats()
	sum := message.Summary{
		PageID:     r.pageID,
		PageURL:    r.pageURL,
		Discovered: st.Discovered,
		Requests:   st.Requests,
		Completed:  st.Completed,
		Committed:  st.Committed,
		Stale:      st.Stale,
		Pending:    st.Dispatched - st.Completed,
		StartedAt:  r.started.UnixMilli(),
		FinishedAt: time.Now().UnixMilli(),
	}
	if err := r.t.sinks.SendSummary(ctx, sum); err != nil {
		r.t.logger.Warn("inpage: sink summary", "page_id", r.pageID, "error", err)
	}
	r.t.logger.Info("inpage: run finished",
		"page_id", r.pageID,
		"committed", sum.Committed,
		"pending", sum.Pending,
		"stale", sum.Stale,
		"duration", time.Since(r.started))
	return sum
}
