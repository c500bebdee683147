package backend

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/overlay/inpage/message"
)

// DispatcherConfig for NewDispatcher.
type DispatcherConfig struct {
	Name    string
	Handler Handler
	Workers int // default 4

	// CharsPerSecond throttles calls by request length. Zero disables it.
	CharsPerSecond float64
	// Burst is the most characters one call may consume at once, default 200.
	Burst int

	Logger *slog.Logger
}

// Dispatcher runs a synchronous Handler on a worker pool and delivers the
// results asynchronously. Sent requests wait in an unbounded FIFO; the
// limiter throttles the workers, never Send.
type Dispatcher struct {
	name    string
	handler Handler
	workers int
	queue   *requestQueue
	limiter *rate.Limiter
	burst   int
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	deliver func(message.Response)
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Call Open before Send.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 200
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "dispatcher"
	}

	d := &Dispatcher{
		name:    cfg.Name,
		handler: cfg.Handler,
		workers: cfg.Workers,
		queue:   newRequestQueue(),
		burst:   cfg.Burst,
		logger:  cfg.Logger,
	}
	if cfg.CharsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.CharsPerSecond), cfg.Burst)
	}
	return d
}

// Open starts the workers.
func (d *Dispatcher) Open(ctx context.Context, deliver func(message.Response)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return ErrAlreadyOpen
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.deliver = deliver

	for range d.workers {
		d.wg.Add(1)
		go d.work(d.ctx)
	}
	d.logger.Debug("backend: dispatcher open", "backend", d.name, "workers", d.workers)
	return nil
}

// Send queues req without waiting for the translation.
func (d *Dispatcher) Send(_ context.Context, req message.Request) error {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return ErrClosed
	}
	d.queue.push(req)
	return nil
}

// Close stops the workers and waits for in-progress calls to return.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		req, ok := d.queue.pop(ctx)
		if !ok {
			return
		}
		d.process(ctx, req)
	}
}

func (d *Dispatcher) process(ctx context.Context, req message.Request) {
	if d.limiter != nil {
		n := min(utf8.RuneCountInString(req.Text), d.burst)
		if err := d.limiter.WaitN(ctx, max(n, 1)); err != nil {
			return
		}
	}

	resp, err := d.handler(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("backend: translation failed",
				"backend", d.name, "attr_id", req.AttrID.String(), "error", err)
		}
		return
	}
	resp.AttrID = req.AttrID
	d.deliver(resp)
}
