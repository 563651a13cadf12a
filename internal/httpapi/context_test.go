package httpapi

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func TestJoinContexts_CancelsOnBase(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	req := context.WithValue(context.Background(), ctxKey{}, "acme")
	j, cancel := joinContexts(base, req)
	defer cancel()
	if j.Value(ctxKey{}) != "acme" {
		t.Fatal("request values must survive the join")
	}
	cancelBase()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel after base canceled")
	}
}

func TestJoinContexts_CancelsOnRequest(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	j, cancel := joinContexts(context.Background(), req)
	defer cancel()
	cancelReq()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel after request canceled")
	}
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	// nolint:staticcheck // SA1012: nil exercises the fallback
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatal("base context should be Background after reset")
	}
}
