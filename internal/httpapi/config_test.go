package httpapi

import (
	"testing"
	"time"
)

func TestSetMaxBodyBytes(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
}

func TestSetRPCTimeout_NormalizesNegative(t *testing.T) {
	SetRPCTimeout(-time.Second)
	if rpcTimeout != 0 {
		t.Fatalf("expected 0, got %s", rpcTimeout)
	}
	SetRPCTimeout(3 * time.Second)
	if rpcTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %s", rpcTimeout)
	}
	SetRPCTimeout(0)
}
