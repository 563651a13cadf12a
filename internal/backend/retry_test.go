package backend

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"modelgate/internal/apperr"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", &statusError{code: 502}, true},
		{"429", &statusError{code: 429}, true},
		{"4xx", &statusError{code: 400}, false},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"taxonomy", apperr.New(apperr.CodeTenantAccessDenied, "no"), false},
		{"plain", errors.New("model missing"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Fatalf("%s: isTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := retryPolicy{maxAttempts: 5, delay: time.Millisecond}
	calls := 0
	err := p.do(testCtx(t), func(context.Context) error {
		calls++
		return &statusError{code: 404}
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var se *statusError
	if !errors.As(err, &se) || se.code != 404 {
		t.Fatalf("want the 404 back, got %v", err)
	}
}

func TestRetryExhaustionSanitizesMessage(t *testing.T) {
	p := retryPolicy{maxAttempts: 3, sanitize: func(string) string { return "[scrubbed]" }}
	calls := 0
	err := p.do(testCtx(t), func(context.Context) error {
		calls++
		return &statusError{code: 503, body: "secret"}
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInternal {
		t.Fatalf("want internal error, got %v", err)
	}
	if ae.Message != "backend request failed after 3 attempts: [scrubbed]" {
		t.Fatalf("message = %q", ae.Message)
	}
	if ae.Data["attempts"] != 3 {
		t.Fatalf("data = %v", ae.Data)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retryPolicy{maxAttempts: 10, delay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.do(ctx, func(context.Context) error {
			calls++
			return &statusError{code: 500}
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("retry did not stop on cancel")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryMinimumOneAttempt(t *testing.T) {
	p := retryPolicy{}
	calls := 0
	_ = p.do(testCtx(t), func(context.Context) error { calls++; return nil })
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
