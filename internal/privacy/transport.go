package privacy

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// guardTransport checks every outbound request against the enforcer.
type guardTransport struct {
	next http.RoundTripper
	enf  *Enforcer
}

// GuardTransport wraps next (http.DefaultTransport when nil) so each request
// passes ValidateExternalRequest before it is sent.
func (e *Enforcer) GuardTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &guardTransport{next: next, enf: e}
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.enf.ValidateExternalRequest(req.URL.String()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// GuardedClient returns an http.Client using GuardTransport.
func (e *Enforcer) GuardedClient() *http.Client {
	return &http.Client{Transport: e.GuardTransport(nil)}
}

// sanitizingWriter scrubs complete lines before forwarding them.
type sanitizingWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer
}

// SanitizingWriter wraps w for use as a log sink. Each write from zerolog is
// one event, so lines are scrubbed as they arrive.
func (e *Enforcer) SanitizingWriter(w io.Writer) io.Writer {
	if !e.cfg.AnonymizeLogs {
		return w
	}
	return &sanitizingWriter{out: w}
}

func (s *sanitizingWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	for {
		idx := bytes.IndexByte(s.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(s.buf.Next(idx + 1))
		if _, err := io.WriteString(s.out, scrub(line)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
