package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or missing request parameters.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates no owner-scoped records matched.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the caller is not authenticated.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrIO indicates a file store or archive write fault.
	ErrIO = errors.New("i/o failure")
	// ErrUnavailable indicates a backing service could not be reached.
	ErrUnavailable = errors.New("service unavailable")
)

// Validation wraps ErrValidation with a caller facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a caller facing message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IOFailure describes a storage fault. Retryable faults may be retried once by
// the caller; the core never retries on its own.
type IOFailure struct {
	Op        string
	Path      string
	Retryable bool
	Err       error
}

func (e *IOFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrIO) match every IOFailure.
func (e *IOFailure) Is(target error) bool {
	return target == ErrIO
}

// NewIOFailure builds an IOFailure. A nil err yields nil.
func NewIOFailure(op, path string, retryable bool, err error) error {
	if err == nil {
		return nil
	}
	return &IOFailure{Op: op, Path: path, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err carries a retryable IOFailure.
func IsRetryable(err error) bool {
	var failure *IOFailure
	if errors.As(err, &failure) {
		return failure.Retryable
	}
	return false
}
