package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"modelgate/internal/apperr"
	"modelgate/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is left to the CORS configuration and the tenant header.
	CheckOrigin: func(*http.Request) bool { return true },
}

func withRPCTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rpcTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rpcTimeout)
}

// rpc serves one protocol envelope per POST. Replies are written as-is;
// messages that need no reply get 204.
func (a *api) rpc(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, apperr.CodeInvalidRequest, "Content-Type must be application/json")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, apperr.CodeInvalidRequest, "request body too large")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	ctx, cancelRPC := withRPCTimeout(ctx)
	defer cancelRPC()

	h := protocol.NewHandler(a.methods, nil, protocol.Options{Sanitize: sanitize, Logger: zlog})
	reply := h.ProcessMessage(ctx, raw)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		logEnd(r, "rpc", http.StatusNoContent, start, nil)
		return
	}
	writeJSON(w, http.StatusOK, reply)
	if reply.Error != nil {
		logEnd(r, "rpc", http.StatusOK, start, reply.Error)
		return
	}
	logEnd(r, "rpc", http.StatusOK, start, nil)
}

// wsConn serializes writes to one websocket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(_ context.Context, env *protocol.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// rpcWebSocket upgrades to a duplex protocol channel. Every inbound message
// is handled on its own goroutine so a slow inference does not block
// replies to other requests on the same connection.
func (a *api) rpcWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Str("event", "ws_upgrade_failed").Err(err).Msg("")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	wc := &wsConn{conn: conn}
	h := protocol.NewHandler(a.methods, wc.send, protocol.Options{Sanitize: sanitize, Logger: zlog})
	defer h.Close()

	rid := middleware.GetReqID(r.Context())
	zlog.Info().Str("event", "ws_open").Str("request_id", rid).Msg("")

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	done := make(chan struct{})
	defer close(done)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := wc.ping(); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn().Str("event", "ws_read_failed").Str("request_id", rid).Str("error", sanitize(err.Error())).Msg("")
			}
			break
		}
		wg.Add(1)
		go func(raw []byte) {
			defer wg.Done()
			mctx, mcancel := withRPCTimeout(ctx)
			defer mcancel()
			if reply := h.ProcessMessage(mctx, raw); reply != nil {
				if err := wc.send(mctx, reply); err != nil {
					zlog.Debug().Str("event", "ws_write_failed").Str("request_id", rid).Err(err).Msg("")
				}
			}
		}(raw)
	}
	cancel()
	zlog.Info().Str("event", "ws_close").Str("request_id", rid).Msg("")
}
