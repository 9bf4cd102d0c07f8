// Package logger configures the leveled diagnostic channel shared by all
// components. Diagnostics are observational only; nothing reads them back.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Two levels beyond the slog defaults. Verbose sits below debug for raw
// byte-level tracing, Fatal above error for failures that end a session.
const (
	LevelVerbose = slog.LevelDebug - 4
	LevelFatal   = slog.LevelError + 4
)

var globalLogger *slog.Logger

// InitLogger initializes the global slog logger for the given level name.
func InitLogger(level string) error {
	var slogLevel slog.Level

	switch level {
	case "verbose":
		slogLevel = LevelVerbose
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       slogLevel,
		ReplaceAttr: replaceLevelNames,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return nil
}

// GetLogger returns the global logger.
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// ForComponent returns a child logger tagged with a component name. The
// returned logger resolves the global handler on every record, so it follows
// InitLogger reconfiguration even when created first.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{
		attrs: []slog.Attr{slog.String("component", name)},
	})
}

// componentHandler defers to whatever handler the global logger currently
// has, applying its accumulated attributes at record time.
type componentHandler struct {
	attrs []slog.Attr
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return GetLogger().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	target := GetLogger().Handler()
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	return target.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &componentHandler{attrs: merged}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	// No component logger uses groups; bind them to the current handler.
	return GetLogger().Handler().WithAttrs(h.attrs).WithGroup(name)
}

// replaceLevelNames renders the custom levels as VERBOSE/FATAL instead of
// slog's DEBUG-4/ERROR+4 offsets.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch level {
	case LevelVerbose:
		a.Value = slog.StringValue("VERBOSE")
	case LevelFatal:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}
