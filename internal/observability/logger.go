// Package observability provides structured logging for hlsindex.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/hlsindex/internal/config"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey contextKey = "request_id"

// LevelTrace sits below debug and is used for per-segment detail.
const LevelTrace = slog.Level(-8)

const redacted = "[REDACTED]"

// sensitiveNames are attribute keys and URL query parameters whose values
// never reach the log output. Playlist and key URIs often carry tokens.
var sensitiveNames = []string{"password", "secret", "token", "apikey", "api_key", "credential"}

var sensitiveQuery = regexp.MustCompile(`(?i)([?&](?:` + strings.Join(sensitiveNames, "|") + `)=)[^&#\s"]*`)

var requestLogging atomic.Bool

// SetRequestLoggingEnabled toggles logging of successful HTTP requests.
func SetRequestLoggingEnabled(enabled bool) { requestLogging.Store(enabled) }

// IsRequestLoggingEnabled reports whether successful requests are logged.
func IsRequestLoggingEnabled() bool { return requestLogging.Load() }

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger supports JSON and text formats with configurable log levels.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// This is useful for testing or custom output destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	redact := newRedactor()

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if t, ok := a.Value.Any().(time.Time); ok && cfg.TimeFormat != "" {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
					return a
				case slog.LevelKey:
					if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.MessageKey, slog.SourceKey:
					return a
				}
			}
			if a.Value.Kind() == slog.KindString {
				if s := a.Value.String(); strings.Contains(s, "://") {
					a = slog.String(a.Key, RedactURL(s))
				}
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func newRedactor() func([]string, slog.Attr) slog.Attr {
	var opts []masq.Option
	for _, name := range sensitiveNames {
		opts = append(opts,
			masq.WithFieldName(name),
			masq.WithFieldName(strings.ToUpper(name[:1])+name[1:]),
			masq.WithFieldName(strings.ToUpper(name)),
		)
	}
	opts = append(opts, masq.WithFieldName("ApiKey"))
	return masq.New(opts...)
}

// RedactURL masks the values of sensitive query parameters.
func RedactURL(s string) string {
	return sensitiveQuery.ReplaceAllString(s, "${1}"+redacted)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithApp tags every record with the application name.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return logger.With(slog.String("app", app))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithCorrelationID adds a correlation ID to the logger.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String("correlation_id", correlationID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger for tracking specific operations.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// Discard returns a logger that drops everything. Handy for tests and for
// callers that pass no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// TimedOperationWithError logs the start and end of an operation with its
// duration. The error pointer is read when the returned function runs so
// that errors assigned after this call are reported. A request ID carried
// by ctx is attached to both records.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "manifest_parse", &err)
//	defer done()
//	err = doSomething()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger = WithOperation(logger, operation)
	if id := RequestIDFromContext(ctx); id != "" {
		logger = WithRequestID(logger, id)
	}
	logger.DebugContext(ctx, "operation started")

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			WithError(logger, *errPtr).ErrorContext(ctx, "operation failed", slog.Duration("duration", duration))
			return
		}
		logger.InfoContext(ctx, "operation completed", slog.Duration("duration", duration))
	}
}
