package errorutil

import (
	"fmt"
	"log/slog"
	"time"
)

// LogAndWrap logs err at error level and returns it wrapped with operation.
func LogAndWrap(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	if logger != nil {
		logger.Error(operation+" failed", attrArgs(err, attrs)...)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// LogWarning logs a recoverable error without returning it.
func LogWarning(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn("Non-fatal error in "+operation, attrArgs(err, attrs)...)
}

// BestEffort runs fn for a side effect whose failure must never reach the
// caller. Errors and panics are logged as warnings and dropped. It returns
// true when fn completed without error.
func BestEffort(logger *slog.Logger, operation string, fn func() error, attrs ...slog.Attr) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			LogWarning(logger, operation, fmt.Errorf("panic: %v", r), attrs...)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		LogWarning(logger, operation, err, attrs...)
		return false
	}
	return true
}

// ExecuteWithLogging runs fn between debug start/finish records and wraps
// a returned error with operation.
func ExecuteWithLogging(logger *slog.Logger, operation string, fn func() error, attrs ...slog.Attr) error {
	if logger == nil {
		return fn()
	}

	start := time.Now()
	logger.Debug("Starting "+operation, toArgs(attrs)...)

	err := fn()
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	if err != nil {
		logger.Error("Failed "+operation, attrArgs(err, attrs)...)
		return fmt.Errorf("%s: %w", operation, err)
	}

	logger.Debug("Completed "+operation, toArgs(attrs)...)
	return nil
}

// CoordinateContext returns attributes identifying a query point.
func CoordinateContext(latitude, longitude float64) []slog.Attr {
	return []slog.Attr{
		slog.Float64("latitude", latitude),
		slog.Float64("longitude", longitude),
	}
}

// CacheContext returns attributes identifying a cache record.
func CacheContext(key, backend string) []slog.Attr {
	attrs := []slog.Attr{slog.String("cache_key", key)}
	if backend != "" {
		attrs = append(attrs, slog.String("cache_backend", backend))
	}
	return attrs
}

// FileContext returns the file_path attribute, or nothing for an empty path.
func FileContext(filePath string) []slog.Attr {
	if filePath == "" {
		return nil
	}
	return []slog.Attr{slog.String("file_path", filePath)}
}

func attrArgs(err error, attrs []slog.Attr) []any {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("error", err.Error()))
	return append(args, toArgs(attrs)...)
}

func toArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}
