// Command inpage translates HTML documents and live pages in place.
//
// Usage:
//
//	inpage -file page.html -format markdown   # translate a file (or - for stdin)
//	inpage -url https://example.com -duration 2m
//	inpage -config inpage.yaml -db pages.db   # observe configured pages
//	inpage -config inpage.yaml -serve         # HTTP API (+ MCP with -mcp)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/overlay/dbopen"
	"github.com/hazyhaar/overlay/inpage"
	"github.com/hazyhaar/overlay/shield"
)

var errUsage = errors.New("nothing to do")

type flags struct {
	file, url, config, db string
	serve, mcp            bool
	addr, backend, format string
	duration              time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.file, "file", "", "translate an HTML file (- for stdin) and print it")
	flag.StringVar(&f.url, "url", "", "observe and translate a single live page")
	flag.DurationVar(&f.duration, "duration", 0, "with -url: stop after this long (0 = until signal)")
	flag.StringVar(&f.config, "config", "", "path to inpage.yaml")
	flag.StringVar(&f.db, "db", "", "SQLite database holding the inpage_pages table")
	flag.BoolVar(&f.serve, "serve", false, "serve the HTTP API")
	flag.BoolVar(&f.mcp, "mcp", false, "with -serve: mount the MCP endpoint at /mcp")
	flag.StringVar(&f.addr, "addr", "", "with -serve: listen address (overrides config)")
	flag.StringVar(&f.backend, "backend", "", "backend type (overrides config): echo, prefix, upper, http, websocket")
	flag.StringVar(&f.format, "format", inpage.FormatHTML, "with -file: output format html, markdown or text")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, f)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, "usage: inpage -file <path> | -url <url> | -config <file> [-db <file>] [-serve]")
		stop()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("inpage: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg := inpage.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = inpage.LoadConfigFile(f.config); err != nil {
			return err
		}
	}
	if f.backend != "" {
		cfg.Backend.Type = f.backend
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.mcp {
		cfg.Server.MCP = true
	}

	pages := cfg.Pages
	if f.url != "" {
		pages = append(pages, inpage.PageConfig{URL: f.url, Duration: f.duration})
	}
	if f.db != "" {
		stored, err := loadPages(ctx, f.db)
		if err != nil {
			return err
		}
		pages = append(pages, stored...)
	}

	if f.file == "" && !f.serve && len(pages) == 0 {
		return errUsage
	}

	tr, err := inpage.New(cfg, inpage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer tr.Close()

	if f.file != "" {
		return translateFile(ctx, tr, f.file, f.format)
	}

	g, gctx := errgroup.WithContext(ctx)
	if f.serve {
		g.Go(func() error { return serve(gctx, logger, tr, cfg) })
	}
	for _, p := range pages {
		g.Go(func() error {
			if err := tr.ObservePage(gctx, p); err != nil {
				return fmt.Errorf("page %s: %w", p.URL, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func loadPages(ctx context.Context, path string) ([]inpage.PageConfig, error) {
	db, err := dbopen.Open(path, dbopen.WithSchema(inpage.PagesSchema))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return inpage.LoadPages(ctx, db)
}

func translateFile(ctx context.Context, tr *inpage.Translator, path, format string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	res, err := tr.TranslateHTML(ctx, string(data))
	if err != nil {
		return err
	}
	out, err := inpage.Render(res.HTML, format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, out)
	return err
}

func serve(ctx context.Context, logger *slog.Logger, tr *inpage.Translator, cfg *inpage.Config) error {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.Options{
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
		Logger:        logger,
	}) {
		r.Use(mw)
	}
	tr.RegisterHTTP(r)

	if cfg.Server.MCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "inpage", Version: "0.1.0"}, nil)
		tr.RegisterMCP(srv)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("inpage: listening", "addr", hs.Addr, "mcp", cfg.Server.MCP)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
