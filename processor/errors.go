package processor

import (
	"errors"
	"fmt"
)

// ValidationError rejects a single raw row: a field that is missing,
// unparseable, implausible, or an unknown node. One bad row never
// fails its batch; the caller counts it and moves on.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid row: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
