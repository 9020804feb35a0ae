// Package admission provides a pluggable pre-admission hook for the
// client-facing surface. It sits in front of model resolution: a request
// is checked here before the Lifecycle Controller ever sees it.
//
// This deliberately mirrors an authentication middleware's shape — extract
// a credential from the request, validate it, reject with a clear error —
// without committing the gateway to any particular credential scheme. The
// default Hook is a no-op; operators wire in their own validator.
package admission

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrDenied is wrapped by a Hook's error to signal the request should be
// rejected with 401 rather than treated as an internal failure.
var ErrDenied = errors.New("admission denied")

// Hook inspects an inbound request before it is matched to a model. A nil
// error admits the request; a non-nil error rejects it. Hooks are called
// synchronously on every request and must not block on slow I/O.
type Hook func(r *http.Request) error

// Allow is the default Hook: it admits every request unconditionally.
func Allow(*http.Request) error {
	return nil
}

// KeySource describes where to read a credential from an incoming
// request: a header (optionally with a scheme prefix like "Bearer") or a
// query parameter.
type KeySource struct {
	Header string // header name, e.g. "Authorization"
	Scheme string // optional prefix stripped from the header value
	Query  string // query parameter name, checked if Header yields nothing
}

// APIKeyHook builds a Hook that accepts a request only if it carries one
// of the allowed keys, extracted via sources in order. An empty allowed
// set makes every extracted key valid, which is only useful for testing.
func APIKeyHook(sources []KeySource, allowed map[string]struct{}, logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r *http.Request) error {
		key, ok := extractKey(r, sources)
		if !ok {
			logger.Warn("admission denied: no credential presented", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			return fmt.Errorf("%w: no credential presented", ErrDenied)
		}
		if len(allowed) > 0 {
			if _, ok := allowed[key]; !ok {
				logger.Warn("admission denied: credential not recognized", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				return fmt.Errorf("%w: credential not recognized", ErrDenied)
			}
		}
		return nil
	}
}

func extractKey(r *http.Request, sources []KeySource) (string, bool) {
	for _, src := range sources {
		if src.Header != "" {
			if v := r.Header.Get(src.Header); v != "" {
				if src.Scheme != "" {
					prefix := src.Scheme + " "
					if strings.HasPrefix(v, prefix) {
						return strings.TrimPrefix(v, prefix), true
					}
					continue
				}
				return v, true
			}
		}
		if src.Query != "" {
			if v := r.URL.Query().Get(src.Query); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
