package transport

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures CORS behavior for the HTTP transport and the origin
// check of the WebSocket transport.
type CORSConfig struct {
	// AllowOrigins lists the allowed origins. "*" allows all.
	AllowOrigins []string

	// AllowMethods defaults to GET, POST, OPTIONS.
	AllowMethods []string

	// AllowHeaders defaults to Content-Type, Authorization, X-Request-ID.
	AllowHeaders []string

	// ExposeHeaders defaults to X-Request-ID.
	ExposeHeaders []string

	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Default 86400.
	MaxAge int
}

// DefaultCORSConfig returns a permissive configuration suitable for development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        86400,
	}
}

func (c CORSConfig) withDefaults() CORSConfig {
	def := DefaultCORSConfig()
	if len(c.AllowMethods) == 0 {
		c.AllowMethods = def.AllowMethods
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = def.AllowHeaders
	}
	if len(c.ExposeHeaders) == 0 {
		c.ExposeHeaders = def.ExposeHeaders
	}
	if c.MaxAge == 0 {
		c.MaxAge = def.MaxAge
	}
	return c
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or ""
// when origin is not allowed.
func (c CORSConfig) allowedOrigin(origin string) string {
	if slices.Contains(c.AllowOrigins, "*") {
		if c.AllowCredentials && origin != "" {
			return origin
		}
		return "*"
	}
	if origin != "" && slices.Contains(c.AllowOrigins, origin) {
		return origin
	}
	return ""
}

// CORSHandler wraps next with CORS headers and preflight handling.
func CORSHandler(config CORSConfig, next http.Handler) http.Handler {
	config = config.withDefaults()
	methods := strings.Join(config.AllowMethods, ", ")
	headers := strings.Join(config.AllowHeaders, ", ")
	expose := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowOrigin := config.allowedOrigin(r.Header.Get("Origin"))
		if allowOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		if allowOrigin != "*" {
			w.Header().Add("Vary", "Origin")
		}
		if config.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if config.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Access-Control-Expose-Headers", expose)
		next.ServeHTTP(w, r)
	})
}

// WithCORS enables CORS for the HTTP transport.
func WithCORS(config CORSConfig) HTTPOption {
	return func(h *HTTP) {
		h.corsConfig = &config
	}
}

// WithAllowedOrigins enables CORS for the given origins with default
// methods and headers.
func WithAllowedOrigins(origins ...string) HTTPOption {
	config := DefaultCORSConfig()
	config.AllowOrigins = origins
	return WithCORS(config)
}
