package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Sanitizer scrubs sensitive substrings from a message before it leaves the
// process.
type Sanitizer func(string) string

// Boundary converts err into an *Error. Taxonomy errors pass through;
// context deadlines become Timeout; everything else becomes InternalError
// with a sanitized message.
func Boundary(err error, sanitize Sanitizer) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	msg := err.Error()
	if sanitize != nil {
		msg = sanitize(msg)
	}
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// Recover turns a recovered panic value into an InternalError stored in
// *errp. Use as `defer apperr.Recover(&err)`.
func Recover(errp *error) {
	if r := recover(); r != nil {
		*errp = &Error{Code: CodeInternal, Message: fmt.Sprintf("internal error: %v", r)}
	}
}

// Sanitized returns a copy of e whose message and string data values have
// been passed through sanitize. A nil sanitize returns e unchanged.
func (e *Error) Sanitized(sanitize Sanitizer) *Error {
	if sanitize == nil {
		return e
	}
	cp := *e
	cp.Message = sanitize(e.Message)
	if e.Data != nil {
		cp.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if s, ok := v.(string); ok {
				v = sanitize(s)
			}
			cp.Data[k] = v
		}
	}
	return &cp
}
