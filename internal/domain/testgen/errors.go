package testgen

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Error kinds. Errors produced by this package report one of these through
// errors.Is, so callers can classify them without matching on text.
var (
	ErrValidation = errors.New("validation error")
	ErrFormat     = errors.New("format error")
	ErrTemplate   = errors.New("template error")
	ErrProvider   = errors.New("provider error")
	ErrParse      = errors.New("parse error")
	ErrProcessing = errors.New("processing error")
)

// ValidationError reports a selector value that is not in its allowed set.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: must be one of [%s]", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// Is lets errors.Is(err, ErrValidation) match a *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// kindError attaches one of the error kinds to a cause. Is reports the kind
// and Unwrap exposes the cause, so both the standard library errors.Is and
// cockroachdb's see it.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return target == e.kind }

func withKind(kind, err error) error {
	return &kindError{kind: kind, cause: err}
}

func formatErrorf(format string, args ...interface{}) error {
	return withKind(ErrFormat, errors.Newf(format, args...))
}

func wrapFormat(err error, msg string) error {
	return withKind(ErrFormat, errors.Wrap(err, msg))
}

func templateErrorf(format string, args ...interface{}) error {
	return withKind(ErrTemplate, errors.Newf(format, args...))
}

func wrapTemplate(err error, msg string) error {
	return withKind(ErrTemplate, errors.Wrap(err, msg))
}

func parseErrorf(format string, args ...interface{}) error {
	return withKind(ErrParse, errors.Newf(format, args...))
}

func wrapProvider(err error) error {
	if errors.Is(err, ErrProvider) {
		return err
	}
	return withKind(ErrProvider, errors.Wrap(err, "completion request failed"))
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Kind names the error class of err for logs and responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrTemplate):
		return "template"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "processing"
	}
}
