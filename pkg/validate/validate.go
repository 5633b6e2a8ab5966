// Package validate checks prospective pathnames against the current listing
// before any create or rename reaches a gateway.
package validate

import (
	"strings"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

// Error messages, in check order.
const (
	ErrEmpty          = "Please enter a name"
	ErrInvalidChars   = "Name contains invalid characters"
	ErrDotSegment     = "Invalid path: cannot contain . or .."
	ErrEmptySegment   = "Invalid path: empty path segment"
	ErrAlreadyExists  = "File or folder already exists"
	ErrParentNotFound = "Parent directory does not exist"
)

// ReservedChars may not appear anywhere in a pathname.
const ReservedChars = `<>:"|?*\`

// Validate checks pathname against files. When isEditing is true the file is
// being rewritten in place and only the character and traversal checks run.
func Validate(p string, isEditing bool, files []models.LogicalFile) models.ValidationResult {
	if p == "" {
		return invalid(ErrEmpty)
	}
	if base := pathname.Base(p); base != "" && strings.TrimSpace(base) == "" {
		return invalid(ErrEmpty)
	}
	if strings.ContainsAny(p, ReservedChars) {
		return invalid(ErrInvalidChars)
	}

	segments := pathname.Segments(p)
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return invalid(ErrDotSegment)
		}
	}
	for _, seg := range segments {
		if seg == "" {
			return invalid(ErrEmptySegment)
		}
	}

	if isEditing {
		return models.ValidationResult{IsValid: true}
	}

	name := segments[len(segments)-1]
	parent := pathname.Parent(p)
	for _, f := range files {
		if pathname.Base(f.Pathname) == name && pathname.Parent(f.Pathname) == parent {
			return invalid(ErrAlreadyExists)
		}
	}

	if len(segments) > 1 && !dirExists(parent, files) {
		return invalid(ErrParentNotFound)
	}

	return models.ValidationResult{IsValid: true}
}

func dirExists(dir string, files []models.LogicalFile) bool {
	for _, f := range files {
		if f.IsDirectory && f.Pathname == dir {
			return true
		}
	}
	return false
}

func invalid(msg string) models.ValidationResult {
	return models.ValidationResult{IsValid: false, Error: msg}
}
