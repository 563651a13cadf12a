// Package protocol implements the request/response/notification envelope
// used over duplex channels such as websockets.
//
// A Handler binds a Methods table to one channel. Incoming requests are
// dispatched to registered methods and answered with a response or error
// envelope carrying the same id. Requests this side initiates with
// SendRequest wait for the matching reply, bounded by a timeout.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modelgate/internal/apperr"
)

// MessageType tags an envelope.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeError        MessageType = "error"
)

// Envelope is the single wire shape for every message.
type Envelope struct {
	Type   MessageType     `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a protocol-typed error. Returning one from a method handler
// propagates its code, message and data unchanged.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *Error) RPCCode() int { return e.Code }

// NewError builds a protocol error.
func NewError(code int, message string, data map[string]any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// TimeoutError is returned by SendRequest when no reply arrives in time.
type TimeoutError struct {
	ID      string
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out after %s", e.ID, e.Method, e.Timeout)
}

func (e *TimeoutError) RPCCode() int { return apperr.RPCTimeout }

// ErrClosed is returned for waits abandoned by Close.
var ErrClosed = errors.New("protocol handler closed")

// ErrorEnvelope builds an error reply for id.
func ErrorEnvelope(id string, e *Error) *Envelope {
	return &Envelope{Type: TypeError, ID: id, Error: e}
}

// Request builds a request envelope with params encoded as JSON.
func Request(id, method string, params any) (*Envelope, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeRequest, ID: id, Method: method, Params: raw}, nil
}

// Notification builds a notification envelope.
func Notification(method string, params any) (*Envelope, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeNotification, Method: method, Params: raw}, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return b, nil
}

// DecodeParams unmarshals params into v, mapping failures onto an
// invalid-params protocol error.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(apperr.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	return nil
}
