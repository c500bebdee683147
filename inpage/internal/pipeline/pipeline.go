// Package pipeline implements the in-page discovery, dispatch, reassembly
// and commit loop.
//
// A Pipeline owns all of its state and mutates it from a single goroutine
// (Run). Host change notifications and backend responses are funnelled
// through two bounded channels; the commit timer is the third event
// source. Nothing else touches the tier maps, claimed set, in-flight set,
// multi-part state or pending commits.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/overlay/idgen"
	"github.com/hazyhaar/overlay/inpage/host"
	"github.com/hazyhaar/overlay/inpage/message"
)

// Defaults for the tunables. The chunk size approximates how many
// characters the backend processes per second.
const (
	DefaultChunkSize   = 200
	DefaultCommitDelay = 500 * time.Millisecond
	DefaultQueueSize   = 256
)

// DefaultKinds is the allow-list of translatable element kinds.
var DefaultKinds = []string{"div", "b", "p", "span", "i"}

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// Backend is the translation service seen from the pipeline. Send must not
// block on the translation itself: results come back through the deliver
// func given to Open, in any order, possibly never. deliver is safe to
// call from any goroutine and blocks while the response queue is full.
type Backend interface {
	Open(ctx context.Context, deliver func(message.Response)) error
	Send(ctx context.Context, req message.Request) error
	Close() error
}

// CommitFunc observes every flushed commit batch.
type CommitFunc func(ctx context.Context, batch message.CommitBatch)

// Config for creating a Pipeline.
type Config struct {
	Host    host.Host
	Backend Backend

	ChunkSize   int           // max runes per request, default 200
	CommitDelay time.Duration // batch window, default 500ms
	Kinds       []string      // translatable element kinds
	QueueSize   int           // capacity of each input channel

	// Sanitize, when set, filters translated text before it is written.
	Sanitize func(string) string
	// OnCommit, when set, receives each flushed batch.
	OnCommit CommitFunc

	PageID  string
	PageURL string
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.CommitDelay <= 0 {
		c.CommitDelay = DefaultCommitDelay
	}
	if len(c.Kinds) == 0 {
		c.Kinds = DefaultKinds
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are cumulative counters, readable at any time.
type Stats struct {
	Discovered  int64 // nodes claimed and queued
	Dispatched  int64 // nodes sent (one dispatch event each)
	Requests    int64 // requests emitted, counting every part
	SendErrors  int64
	Responses   int64
	Stale       int64 // responses with no matching in-flight node
	Completed   int64 // nodes fully reassembled
	Committed   int64 // successful tree writes
	WriteErrors int64
}

type counters struct {
	discovered, dispatched, requests, sendErrors   atomic.Int64
	responses, stale, completed, committed, writes atomic.Int64
}

// Pipeline is one translation session over one host tree.
type Pipeline struct {
	cfg     Config
	host    host.Host
	backend Backend
	logger  *slog.Logger
	kinds   map[string]bool

	// Loop-owned state.
	keys     idgen.Sequence
	tiers    [len(message.Tiers)]map[message.Key]host.NodeID
	claimed  map[host.NodeID]message.Key
	inFlight map[message.Key]struct{}
	parts    map[message.Key][]part
	commit   *scheduler
	batchSeq uint64
	ctx      context.Context

	changes   chan host.Change
	responses chan message.Response
	idle      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	stats     counters
}

// New creates a Pipeline. Call Run to start it.
func New(cfg Config) *Pipeline {
	cfg.defaults()

	p := &Pipeline{
		cfg:       cfg,
		host:      cfg.Host,
		backend:   cfg.Backend,
		logger:    cfg.Logger,
		kinds:     make(map[string]bool, len(cfg.Kinds)),
		claimed:   make(map[host.NodeID]message.Key),
		inFlight:  make(map[message.Key]struct{}),
		parts:     make(map[message.Key][]part),
		changes:   make(chan host.Change, cfg.QueueSize),
		responses: make(chan message.Response, cfg.QueueSize),
		idle:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		ctx:       context.Background(),
	}
	for _, k := range cfg.Kinds {
		p.kinds[k] = true
	}
	for i := range p.tiers {
		p.tiers[i] = make(map[message.Key]host.NodeID)
	}
	p.commit = newScheduler(cfg.CommitDelay, p.apply)
	return p
}

// Run discovers the initial tree, then processes host changes, backend
// responses and commit deadlines until ctx is done. Pending commits are
// flushed before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.ctx = ctx

	if err := p.backend.Open(ctx, p.deliver); err != nil {
		cancel()
		close(p.done)
		return fmt.Errorf("pipeline: open backend: %w", err)
	}
	unsubscribe := p.host.Subscribe(p.notify)

	defer func() {
		unsubscribe()
		cancel()
		close(p.done)
		if err := p.backend.Close(); err != nil {
			p.logger.Warn("pipeline: close backend", "error", err)
		}
	}()

	p.start()
	p.checkIdle()

	for {
		select {
		case <-ctx.Done():
			p.commit.flush()
			return nil

		case c := <-p.changes:
			p.handleChange(c)

		case r := <-p.responses:
			p.onResponse(r)

		case <-p.commit.timerC():
			p.commit.flush()
		}
		p.checkIdle()
	}
}

// Idle fires whenever the pipeline has nothing in flight and nothing
// waiting to be committed.
func (p *Pipeline) Idle() <-chan struct{} {
	return p.idle
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	s := &p.stats
	return Stats{
		Discovered:  s.discovered.Load(),
		Dispatched:  s.dispatched.Load(),
		Requests:    s.requests.Load(),
		SendErrors:  s.sendErrors.Load(),
		Responses:   s.responses.Load(),
		Stale:       s.stale.Load(),
		Completed:   s.completed.Load(),
		Committed:   s.committed.Load(),
		WriteErrors: s.writes.Load(),
	}
}

// deliver is handed to the backend by Open.
func (p *Pipeline) deliver(r message.Response) {
	select {
	case p.responses <- r:
	case <-p.done:
	}
}

// notify is the ChangeFunc registered on the host.
func (p *Pipeline) notify(c host.Change) {
	select {
	case p.changes <- c:
	case <-p.done:
	}
}

// start queues the title as a synthetic node, walks the body and
// dispatches the first pass. It runs again on a document reset; nodes
// already claimed, the title included, are not queued twice.
func (p *Pipeline) start() {
	vp := p.host.Viewport()
	if title, ok := p.host.Title(); ok && !p.isClaimed(title) {
		if el, err := p.host.Describe(title); err == nil {
			p.queue(el, vp)
		} else {
			p.logger.Debug("pipeline: title not describable", "error", err)
		}
	}
	n := p.discover(p.host.Body())
	p.logger.Info("pipeline: initial discovery", "queued", n)
	p.dispatchAll()
}

func (p *Pipeline) handleChange(c host.Change) {
	switch c.Op {
	case host.OpInsert:
		n := 0
		for _, root := range c.Added {
			n += p.discover(root)
		}
		if n > 0 {
			p.logger.Debug("pipeline: discovered in added subtree",
				"target", c.Target, "queued", n)
		}
		p.dispatchAll()
	case host.OpDocReset:
		p.logger.Info("pipeline: document reset, rediscovering")
		p.start()
	default:
		// Attribute, text and removal changes do not feed discovery.
	}
}

func (p *Pipeline) checkIdle() {
	if len(p.inFlight) > 0 || !p.commit.empty() {
		return
	}
	select {
	case p.idle <- struct{}{}:
	default:
	}
}
