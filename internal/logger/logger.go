package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level mirrors slog levels with an extra fatal level on top.
type Level slog.Level

const (
	DebugLevel Level = Level(slog.LevelDebug)
	InfoLevel  Level = Level(slog.LevelInfo)
	WarnLevel  Level = Level(slog.LevelWarn)
	ErrorLevel Level = Level(slog.LevelError)
	FatalLevel Level = Level(slog.LevelError + 4)
)

const (
	timeFormat      = "2006-01-02T15:04:05.000-07:00"
	defaultPattern  = "snowlog-YYYYMMDD.log"
	defaultLogDir   = "logs"
	archiveStampFmt = "20060102-150405"
)

// Config holds logging settings as read from the [logging] TOML section.
type Config struct {
	Enabled         bool   `toml:"enabled"`
	Directory       string `toml:"directory"`
	FilenamePattern string `toml:"filename_pattern"`
	Level           string `toml:"level"`
	MaxFiles        int    `toml:"max_files"`
	MaxSizeMB       int    `toml:"max_size_mb"`
	ConsoleOutput   bool   `toml:"console_output"`
}

// ServiceLogger is a slog.Logger that also owns its file sink and rotates it.
type ServiceLogger struct {
	*slog.Logger
	config   Config
	level    *slog.LevelVar
	file     *os.File
	fileName string
	fileSize int64
	sink     io.Writer
	mu       sync.Mutex
}

var (
	global   *ServiceLogger
	globalMu sync.RWMutex
)

// Initialize replaces the process-wide logger. Call it once at startup.
func Initialize(config Config) error {
	l, err := New(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := global
	global = l
	globalMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// Get returns the process-wide logger, falling back to a stdout logger at
// info level when Initialize has not been called.
func Get() *ServiceLogger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		level := new(slog.LevelVar)
		level.Set(slog.LevelInfo)
		global = &ServiceLogger{level: level, sink: os.Stdout}
		global.Logger = slog.New(newHandler(global, level))
	}
	return global
}

// New builds a logger from config without installing it globally.
func New(config Config) (*ServiceLogger, error) {
	if config.Enabled && config.FilenamePattern != "" {
		if err := ValidateFilenamePattern(config.FilenamePattern); err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
	}

	level := new(slog.LevelVar)
	level.Set(parseLogLevel(config.Level))

	l := &ServiceLogger{config: config, level: level}

	if config.Enabled {
		if err := os.MkdirAll(logDirectory(config.Directory), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := l.openFile(); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}
	l.sink = l.buildSink()
	l.Logger = slog.New(newHandler(l, level))

	l.Debug("Logger initialized",
		slog.String("log_file", l.fileName),
		slog.String("level", config.Level),
		slog.Bool("console", config.ConsoleOutput))

	return l, nil
}

func newHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				return slog.String(slog.TimeKey, a.Value.Time().Format(timeFormat))
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})
}

// SetLevel changes the minimum level of the global logger at runtime.
func SetLevel(level Level) {
	l := Get()
	if l.level != nil {
		l.level.Set(slog.Level(level))
	}
}

// buildSink must be called with mu held or before the logger is shared.
func (l *ServiceLogger) buildSink() io.Writer {
	var writers []io.Writer
	if l.config.ConsoleOutput {
		writers = append(writers, os.Stdout)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	if len(writers) == 0 {
		return os.Stdout
	}
	return io.MultiWriter(writers...)
}

func (l *ServiceLogger) openFile() error {
	path := filepath.Join(logDirectory(l.config.Directory), expandPattern(l.config.FilenamePattern, time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.fileName = path
	l.fileSize = info.Size()
	return nil
}

// Write sends p to the configured sinks and rotates the file when needed.
func (l *ServiceLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == nil {
		l.sink = os.Stdout
	}
	n, err := l.sink.Write(p)
	if err != nil {
		return n, err
	}
	l.fileSize += int64(n)

	if l.needsRotation() {
		if err := l.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation error: %v\n", err)
		}
	}
	return n, nil
}

func (l *ServiceLogger) needsRotation() bool {
	if l.file == nil || !l.config.Enabled {
		return false
	}
	if max := int64(l.config.MaxSizeMB) * 1024 * 1024; max > 0 && l.fileSize >= max {
		return true
	}
	return filepath.Base(l.fileName) != expandPattern(l.config.FilenamePattern, time.Now())
}

// rotate archives the current file under a timestamped name. Caller holds mu.
func (l *ServiceLogger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if info, err := os.Stat(l.fileName); err == nil && info.Size() > 0 {
		ext := filepath.Ext(l.fileName)
		archived := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(l.fileName, ext), time.Now().Format(archiveStampFmt), ext)
		if err := os.Rename(l.fileName, archived); err != nil {
			fmt.Fprintf(os.Stderr, "failed to archive log file: %v\n", err)
		}
	}

	if err := l.openFile(); err != nil {
		l.sink = l.buildSink()
		return err
	}
	l.sink = l.buildSink()

	if l.config.MaxFiles > 0 {
		go pruneArchives(filepath.Dir(l.fileName), l.config.FilenamePattern, l.config.MaxFiles)
	}
	return nil
}

// pruneArchives keeps the newest keep files matching pattern in dir.
func pruneArchives(dir, pattern string, keep int) {
	if pattern == "" {
		pattern = defaultPattern
	}
	glob := pattern
	for _, token := range []string{"YYYY", "YY", "MM", "M", "DD", "D", "HH", "H"} {
		glob = strings.ReplaceAll(glob, token, "*")
	}
	ext := filepath.Ext(glob)
	glob = strings.TrimSuffix(glob, ext) + "*" + ext

	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil || len(matches) <= keep {
		return
	}

	type entry struct {
		path    string
		modTime time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			entries = append(entries, entry{m, info.ModTime()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.After(entries[j].modTime) })

	for _, e := range entries[min(keep, len(entries)):] {
		os.Remove(e.path)
	}
}

// Close releases the log file, if any.
func (l *ServiceLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.sink = l.buildSink()
	return err
}

// FileName is the path of the active log file, empty for console-only loggers.
func (l *ServiceLogger) FileName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileName
}

func logDirectory(dir string) string {
	if dir == "" {
		return defaultLogDir
	}
	if filepath.IsAbs(dir) || dir == defaultLogDir || strings.HasPrefix(dir, "./") {
		return dir
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Snowlog", dir)
		}
	} else if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".snowlog", dir)
	}
	return defaultLogDir
}

// expandPattern substitutes date tokens (YYYY, YY, MM, M, DD, D, HH, H).
func expandPattern(pattern string, now time.Time) string {
	if pattern == "" {
		pattern = defaultPattern
	}
	r := strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", now.Year()),
		"YY", fmt.Sprintf("%02d", now.Year()%100),
		"MM", fmt.Sprintf("%02d", int(now.Month())),
		"M", fmt.Sprintf("%d", int(now.Month())),
		"DD", fmt.Sprintf("%02d", now.Day()),
		"D", fmt.Sprintf("%d", now.Day()),
		"HH", fmt.Sprintf("%02d", now.Hour()),
		"H", fmt.Sprintf("%d", now.Hour()),
	)
	return r.Replace(pattern)
}

func parseLogLevel(level string) slog.Level {
	l, err := ParseLevel(level)
	if err != nil || l == FatalLevel {
		return slog.LevelInfo
	}
	return slog.Level(l)
}

// ParseLevel converts a level name to a Level.
func ParseLevel(levelStr string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

func Debug(format string, args ...any) { Get().Debug(fmt.Sprintf(format, args...)) }
func Info(format string, args ...any)  { Get().Info(fmt.Sprintf(format, args...)) }
func Warn(format string, args ...any)  { Get().Warn(fmt.Sprintf(format, args...)) }
func Error(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }

// Fatal logs at error level and exits the process.
func Fatal(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// LogAPIRequest records an outbound request. Query strings are dropped so
// credentials passed as parameters never reach the log.
func LogAPIRequest(method, url string, headers map[string]string) {
	attrs := []any{
		"method", method,
		"url", stripQuery(url),
		"type", "api_request",
	}
	if ua := headers["User-Agent"]; ua != "" {
		attrs = append(attrs, "user_agent", ua)
	}
	Get().LogAttrs(context.Background(), slog.LevelDebug, "API request started", slog.Group("request", attrs...))
}

// LogAPIResponse records an outbound response; 4xx logs at warn, 5xx at error.
func LogAPIResponse(method, url string, statusCode int, duration time.Duration, bodySize int) {
	level := slog.LevelDebug
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	Get().LogAttrs(context.Background(), level, "API request completed",
		slog.Group("request",
			"method", method,
			"url", stripQuery(url),
			"status_code", statusCode,
			"duration", duration,
			"body_size", bodySize,
			"type", "api_response",
		),
	)
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

// LogOperationStart logs the start of operation and returns a function that
// logs its completion, success or failure, with the elapsed time.
func LogOperationStart(operation string, details map[string]any) func(error) {
	start := time.Now()

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("type", "operation_start"),
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Group("details", mapToArgs(details)...))
	}
	Get().LogAttrs(context.Background(), slog.LevelDebug, "Operation started", attrs...)

	return func(err error) {
		done := []slog.Attr{
			slog.String("operation", operation),
			slog.String("type", "operation_complete"),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("success", err == nil),
		}
		level := slog.LevelDebug
		msg := "Operation completed"
		if err != nil {
			level = slog.LevelWarn
			msg = "Operation failed"
			done = append(done, slog.String("error", err.Error()))
		}
		Get().LogAttrs(context.Background(), level, msg, done...)
	}
}

// LogStructuredError logs err with the caller's file:line and extra fields.
func LogStructuredError(err error, fields map[string]any) {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("type", "structured_error"),
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		attrs = append(attrs, slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(file), line)))
	}
	if len(fields) > 0 {
		attrs = append(attrs, slog.Group("context", mapToArgs(fields)...))
	}
	Get().LogAttrs(context.Background(), slog.LevelError, "Error occurred", attrs...)
}

// LogWithFields logs message with fields as top-level attributes.
func LogWithFields(level Level, message string, fields map[string]any) {
	slogLevel := slog.Level(level)
	if level == FatalLevel {
		slogLevel = slog.LevelError
	}

	keys := sortedKeys(fields)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	Get().LogAttrs(context.Background(), slogLevel, message, attrs...)

	if level == FatalLevel {
		os.Exit(1)
	}
}

func mapToArgs(m map[string]any) []any {
	keys := sortedKeys(m)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, m[k])
	}
	return args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
