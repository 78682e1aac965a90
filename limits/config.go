// Package limits enforces message size and shape thresholds before a request
// reaches a method.
package limits

import (
	"errors"
	"fmt"
)

// Default thresholds.
const (
	DefaultMaxMessageSizeBytes = 10 * 1024 * 1024
	DefaultMaxArrayLength      = 10000
	DefaultMaxStringLength     = 1024 * 1024
	DefaultMaxNestingDepth     = 20
	DefaultMaxMethodNameLength = 256
	DefaultMaxRequestIDLength  = 256
)

// Config holds the thresholds enforced by a Guard. It is built once at
// startup and read-only afterwards.
type Config struct {
	MaxMessageSizeBytes int `yaml:"maxMessageSizeBytes" json:"maxMessageSizeBytes"`
	MaxArrayLength      int `yaml:"maxArrayLength" json:"maxArrayLength"`
	MaxStringLength     int `yaml:"maxStringLength" json:"maxStringLength"`
	MaxNestingDepth     int `yaml:"maxNestingDepth" json:"maxNestingDepth"`
	MaxMethodNameLength int `yaml:"maxMethodNameLength" json:"maxMethodNameLength"`
	MaxRequestIDLength  int `yaml:"maxRequestIdLength" json:"maxRequestIdLength"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxMessageSizeBytes: DefaultMaxMessageSizeBytes,
		MaxArrayLength:      DefaultMaxArrayLength,
		MaxStringLength:     DefaultMaxStringLength,
		MaxNestingDepth:     DefaultMaxNestingDepth,
		MaxMethodNameLength: DefaultMaxMethodNameLength,
		MaxRequestIDLength:  DefaultMaxRequestIDLength,
	}
}

// WithDefaults returns a copy where every unset (zero) threshold takes its default.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSizeBytes == 0 {
		c.MaxMessageSizeBytes = d.MaxMessageSizeBytes
	}
	if c.MaxArrayLength == 0 {
		c.MaxArrayLength = d.MaxArrayLength
	}
	if c.MaxStringLength == 0 {
		c.MaxStringLength = d.MaxStringLength
	}
	if c.MaxNestingDepth == 0 {
		c.MaxNestingDepth = d.MaxNestingDepth
	}
	if c.MaxMethodNameLength == 0 {
		c.MaxMethodNameLength = d.MaxMethodNameLength
	}
	if c.MaxRequestIDLength == 0 {
		c.MaxRequestIDLength = d.MaxRequestIDLength
	}
	return c
}

// Validate reports every negative threshold.
func (c Config) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("limits: %s must not be negative, got %d", name, v))
		}
	}
	check("maxMessageSizeBytes", c.MaxMessageSizeBytes)
	check("maxArrayLength", c.MaxArrayLength)
	check("maxStringLength", c.MaxStringLength)
	check("maxNestingDepth", c.MaxNestingDepth)
	check("maxMethodNameLength", c.MaxMethodNameLength)
	check("maxRequestIdLength", c.MaxRequestIDLength)
	return errors.Join(errs...)
}
