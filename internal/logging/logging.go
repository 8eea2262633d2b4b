// Package logging configures the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// level is the process-wide log level. Adjustable after Init via SetLevel.
var level slog.LevelVar

// Init installs the default slog handler. A colorized tint handler is used
// when stderr is a terminal, a JSON handler otherwise (log collectors expect
// one JSON object per line).
func Init(levelName string) {
	level.Set(parseLevel(levelName))

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      &level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: &level,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// SetLevel changes the level of the installed handler.
func SetLevel(levelName string) {
	level.Set(parseLevel(levelName))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
