package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLogLevel parses a log level name; unknown names map to InfoLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
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

func (l LogLevel) toLogrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogrus returns the JSON logrus logger used by the domain services
func NewLogrus(level LogLevel, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}
	log := logrus.New()
	log.SetOutput(output)
	log.SetLevel(level.toLogrusLevel())
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return log
}

// Logger provides structured JSON request logging using stdlib slog
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a new structured logger using slog
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level.toSlogLevel()})
	return &Logger{logger: slog.New(handler)}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{logger: l.logger.With(key, value)}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// FromContext returns the request logger stored in ctx, tagged with the
// request and subject IDs when present
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	logger := fallback
	if l, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok && l != nil {
		logger = l
	}
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stdout)
	}

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if subjectID := contextkeys.GetSubjectID(ctx); subjectID != "" {
		logger = logger.WithField("subject_id", subjectID)
	}
	return logger
}

// RequestLoggingMiddleware logs one line per HTTP request and stores the
// logger in the request context
func RequestLoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			ctx := contextkeys.WithLogger(r.Context(), logger)
			next.ServeHTTP(rw, r.WithContext(ctx))

			FromContext(ctx, logger).WithFields(map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request completed")
		})
	}
}
