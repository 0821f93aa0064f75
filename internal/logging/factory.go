package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Backend names accepted by New.
const (
	BackendZerolog = "zerolog"
	BackendSlog    = "slog"
)

// Options controls logger construction.
type Options struct {
	// Backend is "zerolog" (default) or "slog".
	Backend string
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Output defaults to os.Stdout. When it is a terminal the zerolog
	// backend switches to human-readable console output.
	Output io.Writer
}

// New builds the configured Logger.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if strings.EqualFold(opts.Backend, BackendSlog) {
		h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slogLevel(opts.Level)})
		return NewSlogLogger(slog.New(h))
	}

	if isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).Level(zerologLevel(opts.Level)).With().Timestamp().Logger()
	return NewZerologLogger(l)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func zerologLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
