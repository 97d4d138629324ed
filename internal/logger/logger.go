// Package logger builds the zerolog logger shared by the server components.
package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to w at the named level ("debug", "info",
// "warn", "error"; empty means info). Format "console" writes human-readable
// lines without color; anything else, including "json", writes JSON.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	out := w
	switch strings.ToLower(format) {
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, NoColor: true}
	case "", FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}
