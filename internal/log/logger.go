package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger and remembers the component it logs for.
type Logger struct {
	*slog.Logger
	component string
	base      slog.Handler
	attrs     []any
}

type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Format    Format
	Component string
	Output    io.Writer
	Handler   slog.Handler
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    FormatText,
		Component: ComponentApp,
		Output:    os.Stdout,
	}
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values mean info.
func ParseLevel(s string) slog.Level {
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

func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON
	case FormatConsole:
		return FormatConsole
	default:
		return FormatText
	}
}

// NewHandler builds the slog handler for a format. Console output is
// colored by tint and meant for local development.
func NewHandler(w io.Writer, format Format, level slog.Level) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatConsole:
		return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = NewHandler(config.Output, config.Format, config.Level)
	}
	component := config.Component
	if component == "" {
		component = ComponentApp
	}
	return &Logger{
		Logger:    slog.New(handler).With(FieldComponent, component),
		component: component,
		base:      handler,
	}
}

// Wrap adopts an existing slog logger, e.g. slog.Default().
func Wrap(l *slog.Logger, component string) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{Logger: l.With(FieldComponent, component), component: component, base: l.Handler()}
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(append(attrs, l.attrs...), args...)
	return &Logger{
		Logger:    l.Logger.With(args...),
		component: l.component,
		base:      l.base,
		attrs:     attrs,
	}
}

// WithComponent returns a logger for another component. The component
// attribute is replaced, not repeated.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    slog.New(l.base).With(FieldComponent, component).With(l.attrs...),
		component: component,
		base:      l.base,
		attrs:     l.attrs,
	}
}

func (l *Logger) Component() string {
	return l.component
}

// Slog exposes the underlying logger for libraries that take *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// SetDefault sets the default logger for the application
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return New(Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

// DebugEnabled reports whether debug output would be written.
func (l *Logger) DebugEnabled(ctx context.Context) bool {
	return l.Logger.Enabled(ctx, slog.LevelDebug)
}
