// Package auth guards the endpoints that accept arbitrary input or change
// server state.
//
// Reads (GET, HEAD, OPTIONS) are public: every read endpoint is either cheap
// or bounded by the per-request point budget. Anything else, such as
// propagating caller-supplied elements or refreshing the TLE catalog,
// requires a bearer token when auth is enabled.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/star/sgp4d/internal/httputil"
)

// Config holds authentication configuration. Token may list several
// comma-separated tokens so that a new one can be rolled out before the old
// one is retired.
type Config struct {
	Enabled bool
	Token   string
}

func (c Config) tokens() [][]byte {
	var out [][]byte
	for _, t := range strings.Split(c.Token, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, []byte(t))
		}
	}
	return out
}

// public reports whether r may skip authentication.
func public(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// bearer extracts the token from an "Authorization: Bearer <token>" header.
func bearer(r *http.Request) ([]byte, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, false
	}
	token = strings.TrimSpace(token)
	return []byte(token), token != ""
}

// Middleware returns an HTTP middleware that enforces Bearer token auth on
// non-public requests when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	tokens := cfg.tokens()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || public(r) {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := bearer(r)
			match := 0
			for _, want := range tokens {
				match |= subtle.ConstantTimeCompare(got, want)
			}
			if !ok || match != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="sgp4d"`)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
