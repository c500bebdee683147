package inpage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/overlay/inpage/message"
	"github.com/hazyhaar/overlay/kit"
	"github.com/hazyhaar/overlay/shield"
)

// TranslateRequest is the body of POST /translate and the arguments of the
// inpage_translate_html MCP tool.
type TranslateRequest struct {
	HTML   string `json:"html"`
	Format string `json:"format,omitempty"` // html | markdown | text
}

// TranslateResponse carries the rendered output and the run summary.
type TranslateResponse struct {
	PageID  string          `json:"page_id"`
	Format  string          `json:"format"`
	Output  string          `json:"output"`
	Batches int             `json:"batches"`
	Settled bool            `json:"settled"`
	Summary message.Summary `json:"summary"`
}

// TranslateEndpoint is the transport-neutral translate operation shared by
// the HTTP and MCP surfaces.
func (t *Translator) TranslateEndpoint() kit.Endpoint {
	return kit.Chain(t.logEndpoint("translate"))(t.translate)
}

func (t *Translator) translate(ctx context.Context, req any) (any, error) {
	r := req.(*TranslateRequest)
	format := r.Format
	if format == "" {
		format = FormatHTML
	}
	// Reject a bad format before spending backend budget.
	if _, err := Render("", format); err != nil {
		return nil, err
	}
	res, err := t.TranslateHTML(ctx, r.HTML)
	if err != nil {
		return nil, err
	}
	out, err := Render(res.HTML, format)
	if err != nil {
		return nil, err
	}
	return &TranslateResponse{
		PageID:  res.PageID,
		Format:  format,
		Output:  out,
		Batches: res.Batches,
		Settled: res.Settled,
		Summary: res.Summary,
	}, nil
}

func (t *Translator) logEndpoint(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			// HTTP requests carry a logger from shield; MCP calls only an id.
			log, ok := ctx.Value(shield.LoggerKey).(*slog.Logger)
			if !ok {
				log = t.logger.With("request_id", kit.GetRequestID(ctx))
			}
			if err != nil {
				log.Warn("inpage: endpoint failed", "endpoint", name,
					"transport", kit.GetTransport(ctx), "duration", time.Since(start), "error", err)
			} else {
				log.Info("inpage: endpoint", "endpoint", name,
					"transport", kit.GetTransport(ctx), "duration", time.Since(start))
			}
			return resp, err
		}
	}
}

// Handler returns the HTTP API:
//
//	GET  /health     liveness
//	GET  /backends   registered backend types
//	POST /translate  TranslateRequest -> TranslateResponse
func (t *Translator) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.Options{
		MaxBodyBytes:  t.cfg.Server.MaxBodyBytes,
		RatePerSecond: t.cfg.Server.RatePerSecond,
		Burst:         t.cfg.Server.Burst,
		Logger:        t.logger,
	}) {
		r.Use(mw)
	}
	t.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the API routes on r without the middleware stack.
func (t *Translator) RegisterHTTP(r chi.Router) {
	endpoint := t.TranslateEndpoint()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/backends", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"backends": t.Backends()})
	})
	r.Post("/translate", func(w http.ResponseWriter, r *http.Request) {
		var req TranslateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := endpoint(r.Context(), &req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func statusOf(err error) int {
	var unknown *ErrUnknownFormat
	switch {
	case errors.Is(err, ErrEmptyDocument), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
