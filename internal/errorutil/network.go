package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// NetworkError describes a failed outbound call with enough context to
// decide whether it is worth retrying.
type NetworkError struct {
	Operation  string
	URL        string
	StatusCode int
	Underlying error
	Retryable  bool
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed for %s: HTTP %d: %v", e.Operation, e.URL, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.URL, e.Underlying)
}

func (e *NetworkError) Unwrap() error {
	return e.Underlying
}

// NewNetworkError wraps err. statusCode is 0 when no response was received.
func NewNetworkError(operation, url string, statusCode int, err error) *NetworkError {
	return &NetworkError{
		Operation:  operation,
		URL:        url,
		StatusCode: statusCode,
		Underlying: err,
		Retryable:  IsRetryableStatus(statusCode) || IsTransient(err),
	}
}

// LogNetworkError logs netErr at warn level when retryable, error otherwise.
func LogNetworkError(logger *slog.Logger, netErr *NetworkError) *NetworkError {
	if logger == nil || netErr == nil {
		return netErr
	}

	args := []any{
		slog.String("operation", netErr.Operation),
		slog.String("url", netErr.URL),
		slog.Bool("retryable", netErr.Retryable),
	}
	if netErr.Underlying != nil {
		args = append(args, slog.String("error", netErr.Underlying.Error()))
	}
	if netErr.StatusCode > 0 {
		args = append(args, slog.Int("status_code", netErr.StatusCode))
	}

	level := slog.LevelError
	if netErr.Retryable {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "Network operation failed", args...)
	return netErr
}

// IsRetryableStatus reports whether an HTTP status suggests a retry.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err looks like a timeout, DNS failure or a
// refused/reset connection. Cancellation by the caller is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "network is unreachable", "temporary failure"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a network or context deadline timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
