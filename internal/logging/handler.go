// Package logging builds the slog handlers used by the CLI and library:
// colorized tint output on a terminal, JSON everywhere else.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Format selects the handler type
type Format string

const (
	FormatAuto   Format = "auto"
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// ParseFormat accepts "", auto, pretty, text or json (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatAuto):
		return FormatAuto, nil
	case string(FormatPretty), "text":
		return FormatPretty, nil
	case string(FormatJSON):
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format %q", s)
}

// ParseLevel accepts debug, info, warn, error and the slog offsets ("info+2")
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q: %w", s, err)
	}
	return level, nil
}

// NewHandler returns a handler writing to w. FormatAuto picks tint when w is
// a terminal and JSON otherwise.
func NewHandler(w io.Writer, format Format, level slog.Leveler) slog.Handler {
	if format == FormatAuto {
		format = FormatJSON
		if isTerminal(w) {
			format = FormatPretty
		}
	}

	if format == FormatPretty {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// New is a convenience wrapper around NewHandler
func New(w io.Writer, format Format, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(w, format, level))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
