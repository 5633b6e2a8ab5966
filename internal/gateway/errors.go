package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Operation names used in errors, logs and metrics.
const (
	OpList       = "list"
	OpGetContent = "get_content"
	OpPut        = "put"
	OpMkdir      = "create_directory_marker"
	OpDelete     = "delete"
)

// Error wraps a failed gateway call.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a gateway call does not finish within its
// time limit. It matches context.DeadlineExceeded.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway %s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// Wrap returns err as an *Error for op. Errors that already carry an *Error
// are returned unchanged; nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsTimeout reports whether err carries a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
