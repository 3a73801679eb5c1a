package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LogLevelEnv names the environment variable consulted when no level flag is given.
const LogLevelEnv = "BEATSHIM_LOG_LEVEL"

// NewLogger creates a JSON logger tagged with component. Run and convert pass
// stderr because stdout may carry converted events. Records logged through a
// context that carries a span get trace_id and span_id.
func NewLogger(w io.Writer, component string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&traceHandler{Handler: handler}).With("component", component)
}

// WithTraceContext returns a logger whose context-aware calls (InfoContext and
// friends) add trace_id and span_id for the active span. Loggers from
// NewLogger already behave this way and are returned as is.
func WithTraceContext(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := logger.Handler().(*traceHandler); ok {
		return logger
	}
	return slog.New(&traceHandler{Handler: logger.Handler()})
}

// traceHandler stamps span identifiers onto records. A remote span extracted
// from an event's traceparent header counts, so converted events can be
// correlated with the agent that shipped them even when export is disabled.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLogLevel maps a level name to slog.Level, falling back to info.
// "warning" is accepted alongside the names slog itself understands.
func ParseLogLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetLogLevel resolves the level from the --log-level flag, then
// BEATSHIM_LOG_LEVEL, then info.
func GetLogLevel(flagLevel string) slog.Level {
	for _, candidate := range []string{flagLevel, os.Getenv(LogLevelEnv)} {
		if strings.TrimSpace(candidate) != "" {
			return ParseLogLevel(candidate)
		}
	}
	return slog.LevelInfo
}
