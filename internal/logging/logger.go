// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// InitLogger builds the logger for app and installs it as the global logger.
func InitLogger(app, level, format string) zerolog.Logger {
	logger := New(os.Stdout, app, level, format)
	log.Logger = logger
	return logger
}

// New builds a logger writing to out. Unknown formats fall back to console.
func New(out io.Writer, app, level, format string) zerolog.Logger {
	var w io.Writer = out
	if strings.ToLower(strings.TrimSpace(format)) != FormatJSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	lvl, _ := ParseLevel(level)
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel maps a level name onto zerolog. The bool is false when raw was
// empty or unknown and the info default was used.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
