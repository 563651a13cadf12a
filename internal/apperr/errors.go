// Package apperr defines the error taxonomy shared by the registry, router,
// protocol and HTTP layers. Each code maps to a stable HTTP status and a
// numeric protocol code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a symbolic error class.
type Code string

const (
	CodeDuplicateModel     Code = "DUPLICATE_MODEL"
	CodeUnsupportedBackend Code = "UNSUPPORTED_BACKEND"
	CodeAdapterInitFailed  Code = "ADAPTER_INIT_FAILED"
	CodeAccessDenied       Code = "ACCESS_DENIED"
	CodeModelNotAvailable  Code = "MODEL_NOT_AVAILABLE"
	CodeInvalidParams      Code = "INVALID_PARAMS"
	CodeContextTooLong     Code = "CONTEXT_TOO_LONG"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeTenantAccessDenied Code = "TENANT_ACCESS_DENIED"
	CodeParseError         Code = "PARSE_ERROR"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeMethodNotFound     Code = "METHOD_NOT_FOUND"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeNotSupported       Code = "NOT_SUPPORTED"
)

// Protocol codes. The first five follow JSON-RPC 2.0.
const (
	RPCParseError         = -32700
	RPCInvalidRequest     = -32600
	RPCMethodNotFound     = -32601
	RPCInvalidParams      = -32602
	RPCInternalError      = -32603
	RPCModelNotAvailable  = -32001
	RPCContextTooLong     = -32002
	RPCRateLimitExceeded  = -32003
	RPCTenantAccessDenied = -32004
	RPCTimeout            = -32005
	RPCAccessDenied       = -32006
	RPCDuplicateModel     = -32007
	RPCUnsupportedBackend = -32008
	RPCAdapterInitFailed  = -32009
)

type mapping struct {
	status int
	rpc    int
}

var codeTable = map[Code]mapping{
	CodeDuplicateModel:     {http.StatusConflict, RPCDuplicateModel},
	CodeUnsupportedBackend: {http.StatusBadRequest, RPCUnsupportedBackend},
	CodeAdapterInitFailed:  {http.StatusBadGateway, RPCAdapterInitFailed},
	CodeAccessDenied:       {http.StatusForbidden, RPCAccessDenied},
	CodeModelNotAvailable:  {http.StatusNotFound, RPCModelNotAvailable},
	CodeInvalidParams:      {http.StatusBadRequest, RPCInvalidParams},
	CodeContextTooLong:     {http.StatusRequestEntityTooLarge, RPCContextTooLong},
	CodeRateLimitExceeded:  {http.StatusTooManyRequests, RPCRateLimitExceeded},
	CodeTenantAccessDenied: {http.StatusForbidden, RPCTenantAccessDenied},
	CodeParseError:         {http.StatusBadRequest, RPCParseError},
	CodeInvalidRequest:     {http.StatusBadRequest, RPCInvalidRequest},
	CodeMethodNotFound:     {http.StatusNotFound, RPCMethodNotFound},
	CodeInternal:           {http.StatusInternalServerError, RPCInternalError},
	CodeTimeout:            {http.StatusGatewayTimeout, RPCTimeout},
	CodeNotSupported:       {http.StatusBadRequest, RPCInvalidParams},
}

// Error is the single error type of the taxonomy.
type Error struct {
	Code    Code
	Message string
	Data    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the code to an HTTP status.
func (e *Error) StatusCode() int {
	if m, ok := codeTable[e.Code]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// RPCCode maps the code to a numeric protocol code.
func (e *Error) RPCCode() int {
	if m, ok := codeTable[e.Code]; ok {
		return m.rpc
	}
	return RPCInternalError
}

// ErrorData returns the structured payload, if any.
func (e *Error) ErrorData() map[string]any { return e.Data }

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data map[string]any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the taxonomy code of err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool { return err != nil && CodeOf(err) == code }

func IsDuplicateModel(err error) bool     { return Is(err, CodeDuplicateModel) }
func IsModelNotAvailable(err error) bool  { return Is(err, CodeModelNotAvailable) }
func IsAccessDenied(err error) bool       { return Is(err, CodeAccessDenied) }
func IsRateLimitExceeded(err error) bool  { return Is(err, CodeRateLimitExceeded) }
func IsContextTooLong(err error) bool     { return Is(err, CodeContextTooLong) }
func IsTenantAccessDenied(err error) bool { return Is(err, CodeTenantAccessDenied) }
func IsTimeout(err error) bool            { return Is(err, CodeTimeout) }
func IsNotSupported(err error) bool       { return Is(err, CodeNotSupported) }
