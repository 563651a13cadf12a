package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelgate/internal/apperr"
)

// HandlerFunc serves one request method. The returned value is encoded as
// the response result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationFunc serves one notification method. No reply is sent.
type NotificationFunc func(ctx context.Context, params json.RawMessage)

// Methods is a method table shared by every Handler of a server.
type Methods struct {
	mu            sync.RWMutex
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationFunc
}

func NewMethods() *Methods {
	return &Methods{handlers: make(map[string]HandlerFunc), notifications: make(map[string]NotificationFunc)}
}

// Handle registers fn for request method name, replacing any previous one.
func (m *Methods) Handle(name string, fn HandlerFunc) {
	m.mu.Lock()
	m.handlers[name] = fn
	m.mu.Unlock()
}

// HandleNotification registers fn for notification method name.
func (m *Methods) HandleNotification(name string, fn NotificationFunc) {
	m.mu.Lock()
	m.notifications[name] = fn
	m.mu.Unlock()
}

// Names lists registered request methods, sorted.
func (m *Methods) Names() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.handlers))
	for n := range m.handlers {
		out = append(out, n)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *Methods) handler(name string) (HandlerFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.handlers[name]
	return fn, ok
}

func (m *Methods) notification(name string) (NotificationFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.notifications[name]
	return fn, ok
}

// SendFunc writes one envelope to the channel.
type SendFunc func(ctx context.Context, env *Envelope) error

// Options configures a Handler.
type Options struct {
	// Sanitize scrubs internal error messages before they are sent.
	Sanitize func(string) string
	Logger   zerolog.Logger
}

// Handler serves one duplex channel.
type Handler struct {
	methods  *Methods
	send     SendFunc
	sanitize func(string) string
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan *Envelope
	closed  bool
}

// NewHandler binds methods to a channel written through send. send may be
// nil for one-shot transports that only call ProcessMessage.
func NewHandler(methods *Methods, send SendFunc, opts Options) *Handler {
	if opts.Sanitize == nil {
		opts.Sanitize = func(s string) string { return s }
	}
	return &Handler{
		methods:  methods,
		send:     send,
		sanitize: opts.Sanitize,
		log:      opts.Logger,
		pending:  make(map[string]chan *Envelope),
	}
}

// ProcessMessage decodes raw and handles it. It returns the envelope to
// send back, or nil when no reply is due.
func (h *Handler) ProcessMessage(ctx context.Context, raw []byte) *Envelope {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ErrorEnvelope("", NewError(apperr.RPCParseError, "parse error", nil))
	}
	return h.Handle(ctx, &env)
}

// Handle routes an already-decoded envelope.
func (h *Handler) Handle(ctx context.Context, env *Envelope) (reply *Envelope) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error().Str("event", "rpc_panic").Str("id", env.ID).Str("method", env.Method).Interface("panic", p).Msg("")
			reply = ErrorEnvelope(env.ID, NewError(apperr.RPCInternalError, "internal error", nil))
		}
	}()
	switch env.Type {
	case TypeRequest:
		if env.ID == "" || env.Method == "" {
			return ErrorEnvelope(env.ID, NewError(apperr.RPCInvalidRequest, "request requires id and method", nil))
		}
		return h.handleRequest(ctx, env)
	case TypeResponse, TypeError:
		h.resolve(env)
		return nil
	case TypeNotification:
		if fn, ok := h.methods.notification(env.Method); ok {
			fn(ctx, env.Params)
		} else {
			h.log.Debug().Str("event", "rpc_notification_dropped").Str("method", env.Method).Msg("")
		}
		return nil
	default:
		return ErrorEnvelope(env.ID, NewError(apperr.RPCInvalidRequest, fmt.Sprintf("unknown message type %q", env.Type), nil))
	}
}

func (h *Handler) handleRequest(ctx context.Context, env *Envelope) *Envelope {
	fn, ok := h.methods.handler(env.Method)
	if !ok {
		return ErrorEnvelope(env.ID, NewError(apperr.RPCMethodNotFound, "method not found: "+env.Method, nil))
	}
	start := time.Now()
	result, err := fn(ctx, env.Params)
	if err != nil {
		pe := h.toError(err)
		h.log.Debug().Str("event", "rpc_error").Str("id", env.ID).Str("method", env.Method).Int("code", pe.Code).Dur("elapsed", time.Since(start)).Msg("")
		return ErrorEnvelope(env.ID, pe)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return ErrorEnvelope(env.ID, NewError(apperr.RPCInternalError, "internal error: encode result", nil))
	}
	h.log.Debug().Str("event", "rpc_done").Str("id", env.ID).Str("method", env.Method).Dur("elapsed", time.Since(start)).Msg("")
	return &Envelope{Type: TypeResponse, ID: env.ID, Result: raw}
}

// toError maps err onto the protocol error space.
func (h *Handler) toError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return NewError(pe.Code, h.sanitize(pe.Message), pe.Data)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		ae = ae.Sanitized(h.sanitize)
		return NewError(ae.RPCCode(), ae.Message, ae.Data)
	}
	var coded interface {
		RPCCode() int
		ErrorData() map[string]any
	}
	if errors.As(err, &coded) {
		return NewError(coded.RPCCode(), h.sanitize(err.Error()), coded.ErrorData())
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return NewError(te.RPCCode(), te.Error(), nil)
	}
	return NewError(apperr.RPCInternalError, "internal error: "+h.sanitize(err.Error()), nil)
}

func (h *Handler) resolve(env *Envelope) {
	h.mu.Lock()
	ch, ok := h.pending[env.ID]
	if ok {
		delete(h.pending, env.ID)
	}
	h.mu.Unlock()
	if !ok {
		h.log.Warn().Str("event", "rpc_orphan_reply").Str("id", env.ID).Str("type", string(env.Type)).Msg("no pending request for reply")
		return
	}
	ch <- env
}

// Pending returns the number of requests awaiting a reply.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// SendRequest sends a request and waits up to timeout for the reply.
func (h *Handler) SendRequest(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if h.send == nil {
		return nil, errors.New("protocol handler has no channel to send on")
	}
	id := uuid.NewString()
	env, err := Request(id, method, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan *Envelope, 1)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[id] = ch
	h.mu.Unlock()

	forget := func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}
	if err := h.send(ctx, env); err != nil {
		forget()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok || reply == nil {
			return nil, ErrClosed
		}
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-timer.C:
		forget()
		return nil, &TimeoutError{ID: id, Method: method, Timeout: timeout}
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// SendNotification sends a fire-and-forget message.
func (h *Handler) SendNotification(ctx context.Context, method string, params any) error {
	if h.send == nil {
		return errors.New("protocol handler has no channel to send on")
	}
	env, err := Notification(method, params)
	if err != nil {
		return err
	}
	return h.send(ctx, env)
}

// Close fails every pending wait with ErrClosed. Later SendRequest calls
// fail immediately.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}
