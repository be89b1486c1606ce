package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/config"
)

// ServiceName tags every supervisor entry so it can be told apart from the
// worker's output on the shared streams.
const ServiceName = "glsupervisor"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the structured logger handed to every supervisor component.
// It satisfies the Logger interfaces declared by supervisor, mqtt, influxdb,
// reporting and api.
type Logger struct {
	*slog.Logger
}

// New creates the process logger.
//
// Parameters:
//   - cfg: Level (debug, info, warn, error), format (json, text) and output
//     (stdout, stderr); unknown values fall back to info, json and stdout
//   - version: Build version attached to every entry
//
// Returns:
//   - *Logger: Logger carrying service and version fields
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(out, cfg, version)
}

// Default is the logger used until the configuration has loaded.
func Default() *Logger {
	return newLogger(os.Stdout, config.LoggingConfig{}, "dev")
}

func newLogger(out io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: readableDurations,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", ServiceName, "version", version)}
}

func parseLevel(name string) slog.Level {
	if level, ok := levels[strings.ToLower(name)]; ok {
		return level
	}
	return slog.LevelInfo
}

// readableDurations writes durations as "2s" rather than nanoseconds.
func readableDurations(_ []string, a slog.Attr) slog.Attr {
	if d, ok := a.Value.Any().(time.Duration); ok {
		a.Value = slog.StringValue(d.String())
	}
	return a
}

// With returns a child logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
