// Package logging sets up the engine's operational slog logger: a
// colorized github.com/lmittmann/tint handler when stderr is a terminal
// (detected via github.com/mattn/go-isatty), a plain handler otherwise.
// This is distinct from the per-lane agent transcript files
// (conversation.jsonl, terminal.log, terminal-raw.log), which stay as
// plain files per spec §6 and are never routed through slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level names accepted by the --log-level flag, mirroring log/slog's own.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// New builds a *slog.Logger writing to w. Color is used only when w is a
// terminal *os.File and noColor is false; noColor (set by `--no-color`)
// turns it off unconditionally.
func New(w io.Writer, levelName string, noColor bool) *slog.Logger {
	level := parseLevel(levelName)
	color := !noColor && isTerminal(w)

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	})
	return slog.New(handler)
}

// FromFlags builds the engine's stderr logger from CLI flag values,
// letting --no-color force plain output even when stderr is a terminal.
func FromFlags(levelName string, noColor bool) *slog.Logger {
	return New(os.Stderr, levelName, noColor)
}

// Default builds the engine's default logger writing to stderr, honoring
// NO_COLOR and CURSORFLOW_LOG_LEVEL the way a Cobra-driven CLI's own flags
// would be expected to, for callers that construct a logger before flag
// parsing has happened (e.g. package init paths).
func Default() *slog.Logger {
	levelName := os.Getenv("CURSORFLOW_LOG_LEVEL")
	if levelName == "" {
		levelName = LevelInfo
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return New(os.Stderr, levelName, noColor)
}

func parseLevel(name string) slog.Level {
	switch name {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
