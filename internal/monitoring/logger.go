package monitoring

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog with service-specific helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger at the given level.
func NewLogger(level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &Logger{Logger: slog.New(handler)}
}

// NewLoggerFromEnv creates a logger with level taken from LOG_LEVEL.
func NewLoggerFromEnv() *Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return NewLogger(level)
}

// RequestLogger logs an HTTP request with standard fields.
func (l *Logger) RequestLogger(method, path, clientIP string, statusCode int, duration time.Duration) {
	l.Info("http request",
		"method", method,
		"path", path,
		"client_ip", clientIP,
		"status", statusCode,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// ScoreLogger logs a computed score.
func (l *Logger) ScoreLogger(entityID, profileID string, value float64, partial bool, cached bool, duration time.Duration) {
	l.Info("score computed",
		"entity_id", entityID,
		"profile_id", profileID,
		"value", value,
		"partial", partial,
		"cached", cached,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// RankLogger logs a recommendation pass.
func (l *Logger) RankLogger(profileID string, poolSize, resultCount int, duration time.Duration) {
	l.Info("recommendations ranked",
		"profile_id", profileID,
		"pool_size", poolSize,
		"result_count", resultCount,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}
