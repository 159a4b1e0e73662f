package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{
			name:   "console only",
			config: Config{ConsoleOutput: true, Level: "info"},
		},
		{
			name: "file logging",
			config: Config{
				Enabled:         true,
				Directory:       t.TempDir(),
				FilenamePattern: "test-YYYYMMDD.log",
				Level:           "debug",
			},
		},
		{
			name: "filename with slashes",
			config: Config{
				Enabled:         true,
				Directory:       t.TempDir(),
				FilenamePattern: "test-MM/DD/YYYY.log",
			},
			wantError: true,
		},
		{
			name:   "unknown level falls back to info",
			config: Config{ConsoleOutput: true, Level: "loud"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Initialize(tt.config)
			if (err != nil) != tt.wantError {
				t.Errorf("Initialize() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Enabled:         true,
		Directory:       dir,
		FilenamePattern: "filter.log",
		Level:           "warn",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	l.Info("hidden info line")
	l.Warn("visible warn line")
	l.Error("visible error line")

	data, err := os.ReadFile(filepath.Join(dir, "filter.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "hidden info line") {
		t.Error("info line written at warn level")
	}
	for _, want := range []string{"visible warn line", "visible error line"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(Config{Enabled: true, Directory: dir, FilenamePattern: "level.log", Level: "warn"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer Initialize(Config{Level: "info", ConsoleOutput: true})

	if got := Get().FileName(); got != filepath.Join(dir, "level.log") {
		t.Errorf("FileName() = %q", got)
	}

	Debug("before level change")
	SetLevel(DebugLevel)
	Debug("after level change")

	data, err := os.ReadFile(Get().FileName())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "before level change") {
		t.Error("debug line written at warn level")
	}
	if !strings.Contains(out, "after level change") {
		t.Error("debug line missing after SetLevel(DebugLevel)")
	}
}

func TestSizeRotation(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Enabled:         true,
		Directory:       dir,
		FilenamePattern: "rotate.log",
		Level:           "info",
		MaxSizeMB:       1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	line := strings.Repeat("x", 4096)
	for i := 0; i < 300; i++ {
		l.Info(line)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "rotate*.log"))
	if len(matches) < 2 {
		t.Errorf("expected an archived file after rotation, found %v", matches)
	}
}

func TestExpandPattern(t *testing.T) {
	now := time.Date(2024, time.January, 5, 7, 0, 0, 0, time.UTC)

	tests := []struct {
		pattern string
		want    string
	}{
		{"app-YYYYMMDD.log", "app-20240105.log"},
		{"app-YY-M-D.log", "app-24-1-5.log"},
		{"app-YYYYMMDD-HH.log", "app-20240105-07.log"},
		{"", "snowlog-20240105.log"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := expandPattern(tt.pattern, now); got != tt.want {
				t.Errorf("expandPattern(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOperationLogging(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(Config{
		Enabled:         true,
		Directory:       dir,
		FilenamePattern: "ops.log",
		Level:           "debug",
	}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { Initialize(Config{ConsoleOutput: true}) })

	done := LogOperationStart("weather_resolve", map[string]any{"latitude": 45.0})
	done(errors.New("provider unavailable"))
	LogAPIRequest("GET", "https://api.example.com/weather?appid=secret", map[string]string{"User-Agent": "test"})
	LogWithFields(InfoLevel, "cache hit", map[string]any{"key": "45.00:-75.00"})

	data, err := os.ReadFile(filepath.Join(dir, "ops.log"))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	out := string(data)

	for _, want := range []string{"weather_resolve", "Operation failed", "provider unavailable", "cache hit"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q", want)
		}
	}
	if strings.Contains(out, "secret") {
		t.Error("query string with credentials leaked into log")
	}
}

func TestValidateFilenamePattern(t *testing.T) {
	valid := []string{"", "app-YYYYMMDD.log", "app.YYYY.MM.DD.log", "app_YYYY_MM_DD.log"}
	for _, p := range valid {
		if err := ValidateFilenamePattern(p); err != nil {
			t.Errorf("ValidateFilenamePattern(%q) = %v, want nil", p, err)
		}
	}

	err := ValidateFilenamePattern("app-MM/DD/YYYY.log")
	var fve *FilenameValidationError
	if !errors.As(err, &fve) {
		t.Fatalf("expected FilenameValidationError, got %T", err)
	}
	if strings.ContainsRune(fve.Suggestion, '/') {
		t.Errorf("suggestion %q still contains a slash", fve.Suggestion)
	}
	if !strings.Contains(err.Error(), "forward slash") {
		t.Errorf("error message does not describe the character: %s", err)
	}
}
