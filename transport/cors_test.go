package transport_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felixgeelhaar/rpcdispatch/transport"
)

func TestCORSHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name      string
		config    transport.CORSConfig
		method    string
		origin    string
		preflight bool
		want      map[string]string
		wantCode  int
	}{
		{
			name:   "wildcard",
			config: transport.CORSConfig{AllowOrigins: []string{"*"}},
			method: http.MethodPost,
			origin: "http://example.com",
			want: map[string]string{
				"Access-Control-Allow-Origin":   "*",
				"Access-Control-Expose-Headers": "X-Request-ID",
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "listed origin",
			config:   transport.CORSConfig{AllowOrigins: []string{"http://a.example", "http://b.example"}},
			method:   http.MethodPost,
			origin:   "http://b.example",
			want:     map[string]string{"Access-Control-Allow-Origin": "http://b.example", "Vary": "Origin"},
			wantCode: http.StatusOK,
		},
		{
			name:     "unlisted origin",
			config:   transport.CORSConfig{AllowOrigins: []string{"http://a.example"}},
			method:   http.MethodPost,
			origin:   "http://evil.example",
			want:     map[string]string{"Access-Control-Allow-Origin": ""},
			wantCode: http.StatusOK,
		},
		{
			name:     "credentials echo origin under wildcard",
			config:   transport.CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			method:   http.MethodGet,
			origin:   "http://a.example",
			want:     map[string]string{"Access-Control-Allow-Origin": "http://a.example", "Access-Control-Allow-Credentials": "true"},
			wantCode: http.StatusOK,
		},
		{
			name: "preflight",
			config: transport.CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST"},
				AllowHeaders: []string{"Content-Type", "X-Custom"},
				MaxAge:       3600,
			},
			method:    http.MethodOptions,
			origin:    "http://a.example",
			preflight: true,
			want: map[string]string{
				"Access-Control-Allow-Methods": "GET, POST",
				"Access-Control-Allow-Headers": "Content-Type, X-Custom",
				"Access-Control-Max-Age":       "3600",
			},
			wantCode: http.StatusNoContent,
		},
		{
			name:      "preflight defaults",
			config:    transport.CORSConfig{AllowOrigins: []string{"*"}},
			method:    http.MethodOptions,
			origin:    "http://a.example",
			preflight: true,
			want: map[string]string{
				"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Request-ID",
				"Access-Control-Max-Age":       "86400",
			},
			wantCode: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/rpc", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			transport.CORSHandler(tt.config, next).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			for k, v := range tt.want {
				if got := rec.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestDefaultCORSConfig(t *testing.T) {
	config := transport.DefaultCORSConfig()

	if len(config.AllowOrigins) != 1 || config.AllowOrigins[0] != "*" {
		t.Errorf("AllowOrigins = %v, want [*]", config.AllowOrigins)
	}
	if len(config.AllowMethods) != 3 {
		t.Errorf("AllowMethods = %v", config.AllowMethods)
	}
	if config.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", config.MaxAge)
	}
}
