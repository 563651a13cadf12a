package httpapi

import "time"

// maxBodyBytes caps JSON request bodies. Default 1 MiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes configures the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// rpcTimeout bounds the handling of one protocol message. Zero disables it.
var rpcTimeout time.Duration

// SetRPCTimeout sets the per-message timeout for /v1/rpc and /v1/rpc/ws.
func SetRPCTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	rpcTimeout = d
}

// sanitize scrubs error text before it is written to clients.
var sanitize = func(s string) string { return s }

// SetSanitizer installs the error message scrubber.
func SetSanitizer(fn func(string) string) {
	if fn == nil {
		fn = func(s string) string { return s }
	}
	sanitize = fn
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
