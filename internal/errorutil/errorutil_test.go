package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(out *strings.Builder) *slog.Logger {
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogAndWrap(t *testing.T) {
	var out strings.Builder
	logger := newTestLogger(&out)

	original := errors.New("relation does not exist")
	wrapped := LogAndWrap(logger, "tracking query", original, slog.String("source", "samsara"))

	if !errors.Is(wrapped, original) {
		t.Error("wrapped error does not unwrap to the original")
	}
	if !strings.Contains(wrapped.Error(), "tracking query") {
		t.Errorf("wrapped error missing operation: %v", wrapped)
	}
	for _, want := range []string{"tracking query failed", "relation does not exist", "source=samsara"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("log missing %q: %s", want, out.String())
		}
	}

	if LogAndWrap(logger, "noop", nil) != nil {
		t.Error("LogAndWrap(nil) should return nil")
	}
}

func TestBestEffort(t *testing.T) {
	var out strings.Builder
	logger := newTestLogger(&out)

	if !BestEffort(logger, "cache write", func() error { return nil }) {
		t.Error("successful function reported as failed")
	}

	if BestEffort(logger, "cache write", func() error { return errors.New("disk full") }) {
		t.Error("failing function reported as ok")
	}
	if !strings.Contains(out.String(), "disk full") {
		t.Error("failure was not logged")
	}

	ok := BestEffort(logger, "cache write", func() error { panic("nil map") })
	if ok {
		t.Error("panicking function reported as ok")
	}
	if !strings.Contains(out.String(), "panic: nil map") {
		t.Error("panic was not logged")
	}

	// A nil logger must not break the isolation.
	BestEffort(nil, "cache write", func() error { return errors.New("ignored") })
}

func TestExecuteWithLogging(t *testing.T) {
	var out strings.Builder
	logger := newTestLogger(&out)

	if err := ExecuteWithLogging(logger, "sweep", func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ExecuteWithLogging(logger, "sweep", func() error { return errors.New("boom") })
	if err == nil || !strings.Contains(err.Error(), "sweep: boom") {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Completed sweep") || !strings.Contains(out.String(), "Failed sweep") {
		t.Errorf("missing start/finish records: %s", out.String())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestNetworkErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		retryable bool
	}{
		{"rate limited", 429, errors.New("too many"), true},
		{"server error", 503, errors.New("unavailable"), true},
		{"unauthorized", 401, errors.New("bad key"), false},
		{"not found", 404, errors.New("missing"), false},
		{"timeout", 0, timeoutErr{}, true},
		{"deadline", 0, fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"cancelled", 0, context.Canceled, false},
		{"refused", 0, errors.New("dial tcp: connect: connection refused"), true},
		{"dns", 0, &net.DNSError{Err: "no such host", Name: "api.example"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			netErr := NewNetworkError("weather request", "https://api.example/weather", tt.status, tt.err)
			if netErr.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", netErr.Retryable, tt.retryable)
			}
			if !errors.Is(netErr, tt.err) {
				t.Error("NetworkError does not unwrap to the cause")
			}
		})
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.toml")

	if err := AtomicWriteFile(nil, path, []byte("a = 1\n"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile() error = %v", err)
	}
	if err := AtomicWriteFile(nil, path, []byte("a = 2\n"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "a = 2\n" {
		t.Errorf("content = %q, want second write", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	errs.Check(ValidateCoordinate("latitude", 91, true))
	errs.Check(ValidateCoordinate("longitude", -75, false))
	errs.Check(ValidateDate("date", "15/01/2024"))
	errs.Check(ValidateEnum("backend", "redis", []string{"memory", "file", "postgres"}))
	errs.Check(ValidateRequired("source", "openweathermap"))

	if len(errs.Errors) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs.Errors), errs.Error())
	}
	if errs.Err() == nil {
		t.Error("Err() returned nil with collected failures")
	}

	var empty ValidationErrors
	if empty.Err() != nil {
		t.Error("Err() should be nil when nothing failed")
	}
}
