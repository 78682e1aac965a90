// Package logging adapts zerolog to the middleware.Logger interface.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/rpcdispatch/middleware"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Logger writes structured log lines through zerolog.
type Logger struct {
	zl zerolog.Logger
}

var _ middleware.Logger = (*Logger)(nil)

// New creates a logger writing to w. level is one of debug, info, warn or
// error; format is json or console.
func New(w io.Writer, level, format string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return nil, fmt.Errorf("logging: unknown level %q", level)
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, fields ...middleware.Field) { write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...middleware.Field)  { write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...middleware.Field)  { write(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...middleware.Field) { write(l.zl.Error(), msg, fields) }

func write(e *zerolog.Event, msg string, fields []middleware.Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case float64:
			e = e.Float64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		case []byte:
			e = e.Bytes(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}
