// Package logger provides structured logging for the orchestrator on top of
// log/slog, with trace correlation and runtime level changes.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Level is the log severity threshold.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config selects the level, encoding, and destination of a logger.
type Config struct {
	Level  Level
	Format string // "json" or "text"
	Output string // "stdout", "stderr", or a file path
}

// Logger is the structured logging interface used throughout the
// orchestrator. The *Context variants enrich records with the active trace
// and span IDs so saga logs can be joined with traces.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithContext(ctx context.Context) context.Context

	SetLevel(level Level)
	GetLevel() Level

	// Close flushes and releases file output, if any.
	Close() error
}

// slogLogger adapts *slog.Logger to the Logger interface. The level var is
// shared across With-derived children, so SetLevel takes effect everywhere.
type slogLogger struct {
	slog    *slog.Logger
	leveler *slog.LevelVar
	current *atomic.Int32
	closer  io.Closer
}

// New creates a logger from cfg. A nil cfg gets JSON output on stdout at
// info level. When Output names a file that cannot be opened, logging falls
// back to stdout rather than failing startup.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json", Output: "stdout"}
	}

	leveler := &slog.LevelVar{}
	leveler.Set(slogLevel(cfg.Level))
	current := &atomic.Int32{}
	current.Store(int32(cfg.Level))

	writer, closer := openOutput(cfg.Output)
	opts := &slog.HandlerOptions{
		Level:       leveler,
		AddSource:   true,
		ReplaceAttr: renameStandardKeys,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &slogLogger{
		slog:    slog.New(handler),
		leveler: leveler,
		current: current,
		closer:  closer,
	}
}

func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// renameStandardKeys aligns slog's record keys with the field names the
// rest of the platform's log pipeline expects.
func renameStandardKeys(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: a.Value}
	case slog.LevelKey:
		return slog.Attr{Key: "level", Value: a.Value}
	}
	return a
}

func (l *slogLogger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

func (l *slogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, withTraceFields(ctx, args)...)
}

func (l *slogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, withTraceFields(ctx, args)...)
}

func (l *slogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, withTraceFields(ctx, args)...)
}

func (l *slogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, withTraceFields(ctx, args)...)
}

// With returns a child logger carrying the extra attributes. Children share
// the parent's level and never own the output closer.
func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{
		slog:    l.slog.With(args...),
		leveler: l.leveler,
		current: l.current,
	}
}

// WithContext stores the logger in the context for FromContext.
func (l *slogLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// SetLevel changes the threshold at runtime; config hot reload uses this.
func (l *slogLogger) SetLevel(level Level) {
	l.current.Store(int32(level))
	l.leveler.Set(slogLevel(level))
}

// GetLevel reports the current threshold.
func (l *slogLogger) GetLevel() Level {
	return Level(l.current.Load())
}

func (l *slogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

type loggerKey struct{}

// FromContext returns the logger stored by WithContext, or the global one.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Global()
}

var (
	global Logger
	once   sync.Once
)

func init() {
	SetGlobal(New(&Config{Level: InfoLevel, Format: "text", Output: "stdout"}))
}

// Global returns the process-wide logger.
func Global() Logger {
	return global
}

// SetGlobal installs the process-wide logger. Only the first call wins.
func SetGlobal(l Logger) {
	once.Do(func() {
		global = l
	})
}

// SetLevel adjusts the global logger's threshold.
func SetLevel(level Level) {
	global.SetLevel(level)
}

// Package-level helpers that log through the global logger.

func Debug(msg string, args ...any) { global.Debug(msg, args...) }
func Info(msg string, args ...any)  { global.Info(msg, args...) }
func Warn(msg string, args ...any)  { global.Warn(msg, args...) }
func Error(msg string, args ...any) { global.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	global.DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	global.InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	global.WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	global.ErrorContext(ctx, msg, args...)
}

// withTraceFields appends the trace and span IDs from an active span so log
// lines can be correlated with exported traces.
func withTraceFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return args
	}
	return append(args,
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}
