package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
)

// ServiceName is stamped on every entry as "service".
const ServiceName = "greeter"

// Logger is a *slog.Logger whose With keeps the wrapper type, so components
// can be handed a scoped *Logger.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds the process logger from the logging config section.
//
// Parameters:
//   - cfg: Level, format ("json" or "text") and output ("stdout" or "stderr")
//   - version: Stamped on every entry next to the service name
//
// Returns:
//   - *Logger: Ready to use. Unknown levels fall back to info.
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(out, cfg, version)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// parseLevel maps debug, warn/warning and error onto slog levels; anything
// else is info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "warning":
		l = slog.LevelWarn
	case "debug", "warn", "error":
		_ = l.UnmarshalText([]byte(s)) //nolint:errcheck // names are valid slog levels
	default:
		l = slog.LevelInfo
	}
	return l
}

// With returns a child logger carrying args on every entry.
//
//	log := logger.With("component", "ingest")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used until the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard drops every entry.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
