package backend

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Config selects and tunes a backend. It is embedded in the YAML config.
type Config struct {
	Type    string            `yaml:"type"` // echo | prefix | upper | http | websocket
	URL     string            `yaml:"url"`
	Prefix  string            `yaml:"prefix"`
	Headers map[string]string `yaml:"headers"`

	Workers        int     `yaml:"workers"`
	CharsPerSecond float64 `yaml:"chars_per_second"`
	Burst          int     `yaml:"burst"`

	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	Backoff          time.Duration `yaml:"backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// Factory builds a Backend from its config.
type Factory func(cfg Config, logger *slog.Logger) (Backend, error)

// Registry maps backend types to factories. Circuit breakers are kept per
// endpoint across builds so that one failing server stays tripped for every
// pipeline using it.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	breakers  map[string]*CircuitBreaker
}

// NewRegistry returns a Registry with the built-in types registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		breakers:  make(map[string]*CircuitBreaker),
	}
	r.Register("echo", r.local(func(Config) Handler { return Echo() }))
	r.Register("prefix", r.local(func(c Config) Handler { return Prefix(c.Prefix) }))
	r.Register("upper", r.local(func(Config) Handler { return Upper() }))
	r.Register("http", r.httpFactory)
	r.Register("websocket", websocketFactory)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types lists the registered backend types.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Build creates a fresh, unopened Backend. An empty type means echo.
func (r *Registry) Build(cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.Type == "" {
		cfg.Type = "echo"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.Lock()
	f, ok := r.factories[cfg.Type]
	r.mu.Unlock()
	if !ok {
		return nil, &ErrUnknownType{Type: cfg.Type}
	}
	b, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("backend: build %s: %w", cfg.Type, err)
	}
	return b, nil
}

func (r *Registry) local(mk func(Config) Handler) Factory {
	return func(cfg Config, logger *slog.Logger) (Backend, error) {
		return r.dispatcher(cfg.Type, mk(cfg), cfg, logger), nil
	}
}

func (r *Registry) httpFactory(cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http backend needs a url")
	}
	var opts []HTTPOption
	for k, v := range cfg.Headers {
		opts = append(opts, WithHeader(k, v))
	}
	h := Chain(
		WithRetry(cfg.MaxRetries, cfg.Backoff, logger),
		WithBreaker(cfg.URL, r.breaker(cfg)),
		WithTimeout(cfg.Timeout),
	)(HTTP(cfg.URL, opts...))
	return r.dispatcher(cfg.URL, h, cfg, logger), nil
}

func (r *Registry) dispatcher(name string, h Handler, cfg Config, logger *slog.Logger) *Dispatcher {
	h = Chain(Recovery(logger), Logging(logger))(h)
	return NewDispatcher(DispatcherConfig{
		Name:           name,
		Handler:        h,
		Workers:        cfg.Workers,
		CharsPerSecond: cfg.CharsPerSecond,
		Burst:          cfg.Burst,
		Logger:         logger,
	})
}

func (r *Registry) breaker(cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[cfg.URL]; ok {
		return cb
	}
	var opts []BreakerOption
	if cfg.BreakerThreshold > 0 {
		opts = append(opts, WithBreakerThreshold(cfg.BreakerThreshold))
	}
	if cfg.BreakerReset > 0 {
		opts = append(opts, WithBreakerResetTimeout(cfg.BreakerReset))
	}
	cb := NewCircuitBreaker(opts...)
	r.breakers[cfg.URL] = cb
	return cb
}

func websocketFactory(cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket backend needs a url")
	}
	header := make(http.Header)
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	return NewWebSocket(WebSocketConfig{
		URL:    cfg.URL,
		Header: header,
		Logger: logger,
	}), nil
}
