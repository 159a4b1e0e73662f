package logger

import (
	"fmt"
	"runtime"
	"strings"
)

// FilenameValidationError reports characters that cannot appear in a log
// filename on the current platform.
type FilenameValidationError struct {
	Pattern      string
	InvalidChars []rune
	Platform     string
	Suggestion   string
}

func (e *FilenameValidationError) Error() string {
	quoted := make([]string, 0, len(e.InvalidChars))
	for _, r := range e.InvalidChars {
		quoted = append(quoted, fmt.Sprintf("'%c' (%s)", r, describeRune(r)))
	}
	msg := fmt.Sprintf("invalid filename pattern %q on %s: contains %s",
		e.Pattern, e.Platform, strings.Join(quoted, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf("; try %q", e.Suggestion)
	}
	return msg
}

// Path separators are rejected everywhere; the rest only on Windows.
var (
	alwaysInvalid  = []rune{'/', '\\'}
	windowsInvalid = []rune{':', '|', '*', '?', '<', '>', '"'}
)

// ValidateFilenamePattern checks that pattern is a bare filename that is
// legal on the running platform. An empty pattern selects the default.
func ValidateFilenamePattern(pattern string) error {
	if pattern == "" {
		return nil
	}

	invalid := invalidChars(pattern, runtime.GOOS)
	if len(invalid) == 0 {
		return nil
	}

	return &FilenameValidationError{
		Pattern:      pattern,
		InvalidChars: invalid,
		Platform:     platformName(runtime.GOOS),
		Suggestion:   suggestFilename(pattern, invalid),
	}
}

func invalidChars(name, goos string) []rune {
	banned := alwaysInvalid
	if goos == "windows" {
		banned = append(append([]rune{}, alwaysInvalid...), windowsInvalid...)
	}

	var found []rune
	for _, r := range name {
		for _, b := range banned {
			if r == b {
				found = append(found, r)
				break
			}
		}
	}
	return found
}

func suggestFilename(pattern string, invalid []rune) string {
	out := pattern
	for _, r := range invalid {
		out = strings.ReplaceAll(out, string(r), "-")
	}
	return out
}

func platformName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	default:
		return "Unix"
	}
}

func describeRune(r rune) string {
	switch r {
	case '/':
		return "forward slash"
	case '\\':
		return "backslash"
	case ':':
		return "colon"
	case '|':
		return "pipe"
	case '*':
		return "asterisk"
	case '?':
		return "question mark"
	case '<', '>':
		return "angle brackets"
	case '"':
		return "quotes"
	default:
		return "reserved"
	}
}
