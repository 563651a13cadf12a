// Package privacy keeps model traffic on the local network and scrubs
// personal data from logs and error messages.
package privacy

import (
	"net"
	"net/url"
	"strings"

	"modelgate/internal/apperr"
)

// Config controls the enforcer.
type Config struct {
	// BlockExternalRequests rejects outbound calls to non-local hosts.
	BlockExternalRequests bool
	// LocalOnly rejects inference inputs that reference non-local URLs.
	LocalOnly bool
	// AnonymizeLogs enables log and error message scrubbing.
	AnonymizeLogs bool
	// AllowedHosts are always permitted. "*.example.com" matches subdomains.
	AllowedHosts []string
}

// Enforcer applies a Config. It is immutable and safe for concurrent use.
type Enforcer struct {
	cfg     Config
	allowed []string
}

// New returns an Enforcer for cfg.
func New(cfg Config) *Enforcer {
	e := &Enforcer{cfg: cfg}
	for _, h := range cfg.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			e.allowed = append(e.allowed, h)
		}
	}
	return e
}

// Config returns the active configuration.
func (e *Enforcer) Config() Config { return e.cfg }

// ValidateExternalRequest allows rawURL when blocking is off, or when its
// host is loopback, private, link-local or whitelisted. Otherwise it returns
// TenantAccessDenied.
func (e *Enforcer) ValidateExternalRequest(rawURL string) error {
	if !e.cfg.BlockExternalRequests {
		return nil
	}
	return e.checkURL(rawURL)
}

func (e *Enforcer) checkURL(rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return apperr.New(apperr.CodeTenantAccessDenied, "external request blocked: unparseable url")
	}
	if e.hostAllowed(host) {
		return nil
	}
	return apperr.New(apperr.CodeTenantAccessDenied, "external request to %s blocked by privacy policy", host).
		WithData(map[string]any{"host": host})
}

func hostOf(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	h := strings.ToLower(u.Hostname())
	if h == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errEmptyHost}
	}
	return h, nil
}

func (e *Enforcer) hostAllowed(host string) bool {
	if IsLocalHost(host) {
		return true
	}
	for _, a := range e.allowed {
		if a == host {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(host, a[1:]) {
			return true
		}
	}
	return false
}

// IsLocalHost reports whether host names this machine or a private network.
// No DNS lookups are made.
func IsLocalHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// ValidateModelConfig walks cfg and validates every value that looks like a
// network address.
func (e *Enforcer) ValidateModelConfig(cfg map[string]any) error {
	if !e.cfg.BlockExternalRequests {
		return nil
	}
	return e.walk(cfg)
}

func (e *Enforcer) walk(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for _, vv := range t {
			if err := e.walk(vv); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range t {
			if err := e.walk(vv); err != nil {
				return err
			}
		}
	case []string:
		for _, vv := range t {
			if err := e.walk(vv); err != nil {
				return err
			}
		}
	case string:
		if looksLikeAddress(t) {
			return e.checkURL(t)
		}
	}
	return nil
}

// looksLikeAddress matches "scheme://..." and bare "host:port".
func looksLikeAddress(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return true
	}
	if strings.ContainsAny(s, " /\\") {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil || host == "" || port == "" {
		return false
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateInferenceRequest rejects inputs that reference non-local URLs when
// local-only mode is on.
func (e *Enforcer) ValidateInferenceRequest(texts ...string) error {
	if !e.cfg.LocalOnly {
		return nil
	}
	for _, t := range texts {
		for _, u := range urlPattern.FindAllString(t, -1) {
			if err := e.checkURL(u); err != nil {
				return err
			}
		}
	}
	return nil
}
