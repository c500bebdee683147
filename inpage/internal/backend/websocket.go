package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/overlay/inpage/message"
)

const wsWriteWait = 10 * time.Second

// WebSocket streams requests to a translation server over one connection
// and reads responses as they come. Each text frame carries one JSON
// Request outbound or one JSON Response inbound.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger
	out    *requestQueue

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WebSocketConfig for NewWebSocket.
type WebSocketConfig struct {
	URL    string
	Header http.Header
	Logger *slog.Logger
}

// NewWebSocket creates a streaming backend. Open dials the server.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocket{
		url:    cfg.URL,
		header: cfg.Header,
		dialer: websocket.DefaultDialer,
		logger: cfg.Logger,
		out:    newRequestQueue(),
	}
}

// Open dials the server and starts the read and write pumps.
func (w *WebSocket) Open(ctx context.Context, deliver func(message.Response)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return ErrAlreadyOpen
	}

	conn, _, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		return fmt.Errorf("backend/websocket: dial %s: %w", w.url, err)
	}
	w.conn = conn
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.writePump(w.ctx)
	go w.readPump(w.ctx, deliver)

	w.logger.Info("backend: websocket connected", "url", w.url)
	return nil
}

// Send queues req for the write pump.
func (w *WebSocket) Send(_ context.Context, req message.Request) error {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return ErrClosed
	}
	w.out.push(req)
	return nil
}

// Close sends a close frame, tears down the connection and waits for both
// pumps to exit.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	w.wg.Wait()
	return nil
}

// writePump is the only writer on the connection.
func (w *WebSocket) writePump(ctx context.Context) {
	defer w.wg.Done()
	for {
		req, ok := w.out.pop(ctx)
		if !ok {
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			w.conn.Close()
			return
		}
		w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := w.conn.WriteJSON(req); err != nil {
			w.logger.Warn("backend: websocket write failed",
				"attr_id", req.AttrID.String(), "error", err)
		}
	}
}

func (w *WebSocket) readPump(ctx context.Context, deliver func(message.Response)) {
	defer w.wg.Done()
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("backend: websocket read failed", "error", err)
				// The write pump owns the connection; cancelling makes it close.
				w.cancel()
			}
			return
		}
		resp, err := message.UnmarshalResponse(data)
		if err != nil {
			w.logger.Warn("backend: websocket bad frame", "error", err)
			continue
		}
		deliver(*resp)
	}
}
