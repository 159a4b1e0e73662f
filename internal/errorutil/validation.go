package errorutil

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError is a single field that failed a rule.
type ValidationError struct {
	Field   string
	Value   any
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s' with rule '%s'", e.Field, e.Rule)
}

// ValidationErrors collects field failures so all of them can be reported at once.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i := range e.Errors {
		msgs[i] = e.Errors[i].Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Check appends verr when it is non-nil.
func (e *ValidationErrors) Check(verr *ValidationError) {
	if verr != nil {
		e.Errors = append(e.Errors, *verr)
	}
}

// HasErrors reports whether any failure was collected.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns e as an error, or nil when empty.
func (e *ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Value: value, Rule: "required", Message: "field is required and cannot be empty"}
	}
	return nil
}

func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "range",
			Message: fmt.Sprintf("value must be between %g and %g, got %g", min, max, value),
		}
	}
	return nil
}

func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "range",
			Message: fmt.Sprintf("value must be between %d and %d, got %d", min, max, value),
		}
	}
	return nil
}

func ValidateEnum(field, value string, allowed []string) *ValidationError {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    "enum",
		Message: fmt.Sprintf("must be one of: %s, got '%s'", strings.Join(allowed, ", "), value),
	}
}

// ValidateCoordinate checks a latitude (±90) or longitude (±180).
func ValidateCoordinate(field string, value float64, isLatitude bool) *ValidationError {
	limit := 180.0
	if isLatitude {
		limit = 90
	}
	return ValidateRange(field, value, -limit, limit)
}

// ValidateDate checks for a calendar date in YYYY-MM-DD form.
func ValidateDate(field, value string) *ValidationError {
	if _, err := time.Parse(time.DateOnly, value); err != nil {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "date",
			Message: fmt.Sprintf("must be a date in YYYY-MM-DD form, got '%s'", value),
		}
	}
	return nil
}
