package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	enabled := Config{Enabled: true, Token: "s3cret"}
	rotating := Config{Enabled: true, Token: "old-token, new-token"}

	tests := []struct {
		name   string
		cfg    Config
		method string
		path   string
		header string
		want   int
	}{
		{"disabled", Config{}, "POST", "/api/v1/propagate", "", http.StatusOK},
		{"public health", enabled, "GET", "/healthz", "", http.StatusOK},
		{"public catalog propagate", enabled, "GET", "/api/v1/propagate/25544", "", http.StatusOK},
		{"public stream", enabled, "GET", "/api/v1/stream/propagate/25544", "", http.StatusOK},
		{"public head", enabled, "HEAD", "/api/v1/models", "", http.StatusOK},
		{"missing token", enabled, "POST", "/api/v1/propagate", "", http.StatusUnauthorized},
		{"wrong token", enabled, "POST", "/api/v1/tle/fetch", "Bearer nope", http.StatusUnauthorized},
		{"no bearer prefix", enabled, "POST", "/api/v1/tle/fetch", "s3cret", http.StatusUnauthorized},
		{"empty bearer", enabled, "POST", "/api/v1/tle/fetch", "Bearer ", http.StatusUnauthorized},
		{"basic scheme", enabled, "POST", "/api/v1/tle/fetch", "Basic s3cret", http.StatusUnauthorized},
		{"valid token", enabled, "POST", "/api/v1/tle/fetch", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", enabled, "POST", "/api/v1/propagate", "bearer s3cret", http.StatusOK},
		{"rotating old", rotating, "POST", "/api/v1/propagate", "Bearer old-token", http.StatusOK},
		{"rotating new", rotating, "POST", "/api/v1/propagate", "Bearer new-token", http.StatusOK},
		{"rotating neither", rotating, "POST", "/api/v1/propagate", "Bearer old-token, new-token", http.StatusUnauthorized},
		{"no tokens configured", Config{Enabled: true}, "POST", "/api/v1/propagate", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}
