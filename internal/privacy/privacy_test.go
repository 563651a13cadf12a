package privacy

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/apperr"
)

func TestValidateExternalRequest(t *testing.T) {
	e := New(Config{BlockExternalRequests: true, AllowedHosts: []string{"models.internal.example", "*.corp.example"}})

	allowed := []string{
		"http://localhost:11434/api/tags",
		"http://127.0.0.1:8000/v1",
		"http://10.1.2.3",
		"http://192.168.0.5:9000",
		"http://172.16.4.4",
		"http://[::1]:8080",
		"http://169.254.1.1",
		"http://api.localhost",
		"https://models.internal.example/v1",
		"https://gpu1.corp.example",
		"127.0.0.1:11434",
	}
	for _, u := range allowed {
		assert.NoError(t, e.ValidateExternalRequest(u), u)
	}

	denied := []string{
		"https://api.openai.com/v1",
		"http://8.8.8.8",
		"http://corp.example.evil.com",
		"http://",
	}
	for _, u := range denied {
		err := e.ValidateExternalRequest(u)
		require.Error(t, err, u)
		assert.True(t, apperr.IsTenantAccessDenied(err), u)
	}
}

func TestValidateExternalRequestDisabled(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.ValidateExternalRequest("https://api.openai.com"))
}

func TestSanitizeLogMessage(t *testing.T) {
	e := New(Config{AnonymizeLogs: true})
	in := "user john.doe@example.com ssn 123-45-6789 card 4111 1111 1111 1111 from 203.0.113.9 read /home/john/secret.txt via https://example.com/a?b=c"
	out := e.SanitizeLogMessage(in)

	for _, leak := range []string{"john.doe@example.com", "123-45-6789", "4111 1111", "203.0.113.9", "/home/john", "https://example.com"} {
		assert.NotContains(t, out, leak)
	}
	for _, tok := range []string{"[EMAIL]", "[SSN]", "[CARD]", "[IP]", "[PATH]", "[URL]"} {
		assert.Contains(t, out, tok)
	}

	plain := New(Config{})
	assert.Equal(t, in, plain.SanitizeLogMessage(in))
}

func TestSanitizeErrorMessageTruncates(t *testing.T) {
	e := New(Config{AnonymizeLogs: true})
	out := e.SanitizeErrorMessage(strings.Repeat("a", 2000))
	assert.LessOrEqual(t, len(out), maxErrorMessageLen+3)
}

func TestSanitizeErrorMessageKeepsRunesWhole(t *testing.T) {
	e := New(Config{AnonymizeLogs: true})
	out := e.SanitizeErrorMessage("a" + strings.Repeat("é", 1000))
	require.True(t, utf8.ValidString(out), "truncation split a rune: %q", out[len(out)-8:])
	assert.True(t, strings.HasSuffix(out, "é..."))
	assert.LessOrEqual(t, len(out), maxErrorMessageLen+3)
}

func TestValidateModelConfig(t *testing.T) {
	e := New(Config{BlockExternalRequests: true})
	ok := map[string]any{
		"base_url":   "http://localhost:11434",
		"model_name": "llama2",
		"nested":     map[string]any{"mirror": "127.0.0.1:9000"},
	}
	require.NoError(t, e.ValidateModelConfig(ok))

	bad := map[string]any{
		"model_name": "llama2",
		"fallbacks":  []any{"http://localhost:1", "https://api.example.com"},
	}
	err := e.ValidateModelConfig(bad)
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))
}

func TestValidateInferenceRequest(t *testing.T) {
	e := New(Config{LocalOnly: true})
	require.NoError(t, e.ValidateInferenceRequest("summarize http://localhost/doc", "no links here"))
	err := e.ValidateInferenceRequest("fetch https://evil.example.com/x")
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))

	off := New(Config{})
	require.NoError(t, off.ValidateInferenceRequest("fetch https://evil.example.com/x"))
}

func TestGuardTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := New(Config{BlockExternalRequests: true})
	cli := e.GuardedClient()
	resp, err := cli.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = cli.Get("http://93.184.216.34/")
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))
}

func TestSanitizingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := New(Config{AnonymizeLogs: true}).SanitizingWriter(&buf)
	_, _ = w.Write([]byte(`{"msg":"mail a@b.io"`))
	assert.Empty(t, buf.String())
	_, _ = w.Write([]byte("}\n"))
	assert.Equal(t, `{"msg":"mail [EMAIL]"}`+"\n", buf.String())

	var raw bytes.Buffer
	same := New(Config{}).SanitizingWriter(&raw)
	assert.Same(t, &raw, same.(*bytes.Buffer))
}
