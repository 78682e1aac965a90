// Package config loads the runtime configuration of the dispatch server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/limits"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPC_"

// Config is built once at startup and injected into the engine and
// transports.
type Config struct {
	Limits                      limits.Config   `yaml:"limits" json:"limits"`
	DefaultMethodTimeoutSeconds float64         `yaml:"defaultMethodTimeoutSeconds" json:"defaultMethodTimeoutSeconds"`
	ReplayCooldownSeconds       float64         `yaml:"replayCooldownSeconds" json:"replayCooldownSeconds"`
	ReplayPruneThreshold        int             `yaml:"replayPruneThreshold" json:"replayPruneThreshold"`
	LogRPCParams                bool            `yaml:"logRpcParams" json:"logRpcParams"`
	SanitizeErrors              bool            `yaml:"sanitizeErrors" json:"sanitizeErrors"`
	Log                         LogConfig       `yaml:"log" json:"log"`
	Transports                  TransportConfig `yaml:"transports" json:"transports"`
	RateLimit                   RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	OIDC                        OIDCConfig      `yaml:"oidc" json:"oidc"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TransportConfig holds listen addresses. An empty address disables the listener.
type TransportConfig struct {
	WebSocket      string   `yaml:"websocket" json:"websocket"`
	HTTP           string   `yaml:"http" json:"http"`
	Metrics        string   `yaml:"metrics" json:"metrics"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// RateLimitConfig configures the per-connection token bucket. A zero rate
// disables rate limiting.
type RateLimitConfig struct {
	Rate  int `yaml:"rate" json:"rate"`
	Burst int `yaml:"burst" json:"burst"`
}

// OIDCConfig enables bearer token verification when Issuer is set.
type OIDCConfig struct {
	Issuer   string `yaml:"issuer" json:"issuer"`
	ClientID string `yaml:"clientId" json:"clientId"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Limits:                      limits.DefaultConfig(),
		DefaultMethodTimeoutSeconds: dispatch.DefaultMethodTimeout.Seconds(),
		ReplayCooldownSeconds:       dispatch.DefaultReplayCooldown.Seconds(),
		ReplayPruneThreshold:        dispatch.DefaultReplayPruneThreshold,
		SanitizeErrors:              true,
		Log:                         LogConfig{Level: "info", Format: "json"},
		Transports: TransportConfig{
			WebSocket: ":8080",
			HTTP:      ":8081",
			Metrics:   ":9090",
		},
	}
}

// Load reads the file at path on top of the defaults, applies RPC_*
// environment overrides and validates the result. An empty path skips the
// file. YAML and JSON are selected by extension.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadFromBytes decodes data in the given format ("yaml" or "json") on top
// of the defaults and validates it. Environment overrides are not applied.
func LoadFromBytes(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, format); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) decode(data []byte, format string) error {
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := jsoncodec.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
	return nil
}

// ApplyEnv overrides fields from RPC_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	integer("MAX_MESSAGE_SIZE_BYTES", &c.Limits.MaxMessageSizeBytes)
	integer("MAX_ARRAY_LENGTH", &c.Limits.MaxArrayLength)
	integer("MAX_STRING_LENGTH", &c.Limits.MaxStringLength)
	integer("MAX_NESTING_DEPTH", &c.Limits.MaxNestingDepth)
	integer("MAX_METHOD_NAME_LENGTH", &c.Limits.MaxMethodNameLength)
	integer("MAX_REQUEST_ID_LENGTH", &c.Limits.MaxRequestIDLength)
	float("DEFAULT_METHOD_TIMEOUT_SECONDS", &c.DefaultMethodTimeoutSeconds)
	float("REPLAY_COOLDOWN_SECONDS", &c.ReplayCooldownSeconds)
	integer("REPLAY_PRUNE_THRESHOLD", &c.ReplayPruneThreshold)
	boolean("LOG_RPC_PARAMS", &c.LogRPCParams)
	boolean("SANITIZE_ERRORS", &c.SanitizeErrors)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("WEBSOCKET_ADDR", &c.Transports.WebSocket)
	str("HTTP_ADDR", &c.Transports.HTTP)
	str("METRICS_ADDR", &c.Transports.Metrics)
	integer("RATE_LIMIT", &c.RateLimit.Rate)
	integer("RATE_BURST", &c.RateLimit.Burst)
	str("OIDC_ISSUER", &c.OIDC.Issuer)
	str("OIDC_CLIENT_ID", &c.OIDC.ClientID)

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.Transports.AllowedOrigins = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	errs := []error{c.Limits.Validate()}

	if c.ReplayPruneThreshold < 0 {
		errs = append(errs, fmt.Errorf("replayPruneThreshold must not be negative, got %d", c.ReplayPruneThreshold))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rateLimit values must not be negative"))
	}
	if c.OIDC.Issuer != "" && c.OIDC.ClientID == "" {
		errs = append(errs, fmt.Errorf("oidc.clientId is required when oidc.issuer is set"))
	}
	if c.Transports.WebSocket == "" && c.Transports.HTTP == "" {
		errs = append(errs, fmt.Errorf("at least one of transports.websocket and transports.http must be set"))
	}
	return errors.Join(errs...)
}

// DefaultTimeout returns the default method deadline; <= 0 means unbounded.
func (c *Config) DefaultTimeout() time.Duration {
	return seconds(c.DefaultMethodTimeoutSeconds)
}

// ReplayCooldown returns the replay window; <= 0 disables the replay guard.
func (c *Config) ReplayCooldown() time.Duration {
	return seconds(c.ReplayCooldownSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// EngineOptions translates the configuration into dispatch options.
func (c *Config) EngineOptions() []dispatch.Option {
	opts := []dispatch.Option{
		dispatch.WithLimits(c.Limits),
		dispatch.WithDefaultTimeout(c.DefaultTimeout()),
		dispatch.WithReplayCooldown(c.ReplayCooldown()),
		dispatch.WithSanitizeErrors(c.SanitizeErrors),
	}
	if c.ReplayPruneThreshold > 0 {
		opts = append(opts, dispatch.WithReplayPruneThreshold(c.ReplayPruneThreshold))
	}
	return opts
}

// String returns a one-line summary.
func (c *Config) String() string {
	return fmt.Sprintf("ws=%s http=%s metrics=%s timeout=%gs replay=%gs maxMessage=%dB sanitize=%t log=%s/%s",
		orNone(c.Transports.WebSocket), orNone(c.Transports.HTTP), orNone(c.Transports.Metrics),
		c.DefaultMethodTimeoutSeconds, c.ReplayCooldownSeconds, c.Limits.MaxMessageSizeBytes,
		c.SanitizeErrors, c.Log.Level, c.Log.Format)
}

func orNone(s string) string {
	if s == "" {
		return "off"
	}
	return s
}
