package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"modelgate/internal/apperr"
)

// retryPolicy retries transient failures a fixed number of times with a
// fixed delay.
type retryPolicy struct {
	maxAttempts int
	delay       time.Duration
	sanitize    func(string) string
}

// statusError records a non-2xx backend response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "backend returned " + http.StatusText(e.code)
	}
	return "backend returned " + http.StatusText(e.code) + ": " + e.body
}

// isTransient reports whether err is worth another attempt: transport
// errors, 5xx and 429.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// do runs fn until it succeeds, fails permanently or attempts run out.
func (p retryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !isTransient(last) {
			return last
		}
		if i == attempts-1 {
			break
		}
		if p.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay):
			}
		}
	}
	msg := last.Error()
	if p.sanitize != nil {
		msg = p.sanitize(msg)
	}
	return apperr.New(apperr.CodeInternal, "backend request failed after %d attempts: %s", attempts, msg).
		WithData(map[string]any{"attempts": attempts})
}
