package explorer

import (
	"errors"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/validate"
)

// ErrNotFound is returned when a pathname is not in the collection.
var ErrNotFound = errors.New("file not found")

// ValidationError is returned by Save when the pathname is rejected. It is
// raised before any state change or gateway call.
type ValidationError struct {
	Result models.ValidationResult
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Result.Error
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// reason maps a validation message to a metric label.
func reason(msg string) string {
	switch msg {
	case validate.ErrEmpty:
		return "empty"
	case validate.ErrInvalidChars:
		return "invalid_chars"
	case validate.ErrDotSegment:
		return "dot_segment"
	case validate.ErrEmptySegment:
		return "empty_segment"
	case validate.ErrAlreadyExists:
		return "exists"
	case validate.ErrParentNotFound:
		return "no_parent"
	default:
		return "other"
	}
}
