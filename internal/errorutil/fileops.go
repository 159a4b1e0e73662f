package errorutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileError is a failed file operation on Path.
type FileError struct {
	Operation  string
	Path       string
	Underlying error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s operation failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *FileError) Unwrap() error {
	return e.Underlying
}

// Kind classifies the underlying error for logs.
func (e *FileError) Kind() string {
	switch {
	case errors.Is(e.Underlying, fs.ErrNotExist):
		return "not_found"
	case errors.Is(e.Underlying, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(e.Underlying, fs.ErrExist):
		return "already_exists"
	default:
		return "io_error"
	}
}

// AtomicWriteFile writes data next to path and renames it into place, so
// readers see either the previous contents or the new ones.
func AtomicWriteFile(logger *slog.Logger, path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return logFileError(logger, &FileError{Operation: "mkdir", Path: dir, Underlying: err})
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return logFileError(logger, &FileError{Operation: "write_temp", Path: tmp, Underlying: err})
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return logFileError(logger, &FileError{Operation: "rename", Path: path, Underlying: err})
	}

	if logger != nil {
		logger.Debug("File written",
			slog.String("file_path", path),
			slog.Int("bytes_written", len(data)))
	}
	return nil
}

func logFileError(logger *slog.Logger, fileErr *FileError) *FileError {
	if logger != nil {
		logger.Error("File operation failed",
			slog.String("operation", fileErr.Operation),
			slog.String("file_path", fileErr.Path),
			slog.String("error", fileErr.Underlying.Error()),
			slog.String("error_type", fileErr.Kind()))
	}
	return fileErr
}
