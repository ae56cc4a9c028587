package parser

import (
	"errors"
	"fmt"
)

// ParseError reports a payload or report file that could not be
// decoded: malformed container bytes or a header set that cannot be
// reconciled against the expected fields. It is scoped to one payload
// or file; callers skip and count it rather than aborting a run.
type ParseError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func parseErr(source, reason string, err error) *ParseError {
	return &ParseError{Source: source, Reason: reason, Err: err}
}
