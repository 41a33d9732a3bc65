package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an operation against an id absent from the pool.
	ErrNotFound = errors.New("not found")
	// ErrCapacity reports that no node or proxy can take the allocation and
	// creating one is not permitted.
	ErrCapacity = errors.New("no capacity available")
	// ErrUnsupported reports an inventory provider that cannot add or
	// remove members.
	ErrUnsupported = errors.New("operation not supported")
	// ErrConflict reports a concurrent allocation collision: an equivalent
	// request holds the allocation lock.
	ErrConflict = errors.New("concurrent allocation conflict")
)

// ValidationError reports a malformed requirement expression, modify
// operation, or creation spec.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CoercionError reports stored data that fails schema validation on read.
type CoercionError struct {
	Kind  string
	ID    string
	Field string
	Value any
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s/%s field %q from %v", e.Kind, e.ID, e.Field, e.Value)
}
