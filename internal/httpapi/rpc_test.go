package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"modelgate/internal/apperr"
	"modelgate/internal/protocol"
)

func TestRPCOneShot(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc, fakeResolver{})

	w := do(t, h, http.MethodPost, "/v1/rpc", `{"type":"request","id":"1","method":"inference.complete","params":{"model_id":"m","prompt":"yo"}}`,
		map[string]string{"X-Tenant-ID": "acme"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("json: %v", err)
	}
	if env.Type != protocol.TypeResponse || env.ID != "1" || !strings.Contains(string(env.Result), "echo: yo") {
		t.Fatalf("envelope: %+v", env)
	}
	if svc.lastTenant() != "acme" {
		t.Fatalf("tenant not propagated: %q", svc.lastTenant())
	}
}

func TestRPCOneShotErrors(t *testing.T) {
	SetSanitizer(func(s string) string { return strings.ReplaceAll(s, "http://10.1.2.3:8080", "[URL]") })
	defer SetSanitizer(nil)
	h := NewMux(&mockService{}, fakeResolver{})

	cases := []struct {
		body string
		code int
	}{
		{`{broken`, apperr.RPCParseError},
		{`{"type":"request","id":"2","method":"missing"}`, apperr.RPCMethodNotFound},
		{`{"type":"request","id":"3","method":"inference.complete","params":"nope"}`, apperr.RPCInvalidParams},
		{`{"type":"request","id":"4","method":"boom"}`, apperr.RPCInternalError},
	}
	for _, c := range cases {
		w := do(t, h, http.MethodPost, "/v1/rpc", c.body, nil)
		var env protocol.Envelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s: json: %v", c.body, err)
		}
		if env.Type != protocol.TypeError || env.Error == nil || env.Error.Code != c.code {
			t.Fatalf("%s: envelope %+v", c.body, env)
		}
		if strings.Contains(env.Error.Message, "10.1.2.3") {
			t.Fatalf("address leaked: %q", env.Error.Message)
		}
	}

	if w := do(t, h, http.MethodPost, "/v1/rpc", `{"type":"notification","method":"ping"}`, nil); w.Code != http.StatusNoContent {
		t.Fatalf("notification status=%d", w.Code)
	}
}

func TestRPCWebSocket(t *testing.T) {
	svc := &mockService{}
	srv := httptest.NewServer(NewMux(svc, fakeResolver{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/rpc/ws"
	hdr := http.Header{}
	hdr.Set("X-Tenant-ID", "acme")
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade status=%d", resp.StatusCode)
	}

	send := func(s string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read := func() protocol.Envelope {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return env
	}

	send(`{"type":"notification","method":"ping"}`)
	send(`{"type":"request","id":"a","method":"inference.complete","params":{"model_id":"m","prompt":"one"}}`)
	send(`{"type":"request","id":"b","method":"missing"}`)

	got := map[string]protocol.Envelope{}
	for i := 0; i < 2; i++ {
		env := read()
		got[env.ID] = env
	}
	if env := got["a"]; env.Type != protocol.TypeResponse || !strings.Contains(string(env.Result), "echo: one") {
		t.Fatalf("reply a: %+v", env)
	}
	if env := got["b"]; env.Type != protocol.TypeError || env.Error.Code != apperr.RPCMethodNotFound {
		t.Fatalf("reply b: %+v", env)
	}
	if svc.lastTenant() != "acme" {
		t.Fatalf("tenant not propagated: %q", svc.lastTenant())
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestRPCWebSocketTenantDenied(t *testing.T) {
	srv := httptest.NewServer(NewMux(&mockService{}, fakeResolver{}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/rpc/ws"
	hdr := http.Header{}
	hdr.Set("X-Tenant-ID", "blocked")
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
