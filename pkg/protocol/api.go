// Package protocol defines the request/response types of the blob API and
// the explorer API.
package protocol

import (
	"github.com/fruitsalade/blobtext/pkg/models"
)

// Blob API headers.
const (
	HeaderAddRandomSuffix = "X-Add-Random-Suffix"
	HeaderRequestID       = "X-Request-ID"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// ListResponse is returned by GET /api/blob/list.
type ListResponse struct {
	Blobs []models.RawObject `json:"blobs"`
}

// DeleteRequest is the body for POST /api/blob/delete.
type DeleteRequest struct {
	URLs []string `json:"urls"`
}

// FilesResponse is returned by GET /api/v1/files.
type FilesResponse struct {
	Files []models.LogicalFile `json:"files"`
}

// TreeResponse is returned by GET /api/v1/tree.
type TreeResponse struct {
	Nodes []models.Node `json:"nodes"`
	Count int           `json:"count"`
}

// StateResponse is returned by GET /api/v1/state.
type StateResponse struct {
	Files            []models.LogicalFile `json:"files"`
	Selected         *models.LogicalFile  `json:"selected"`
	Content          string               `json:"content"`
	IsListLoading    bool                 `json:"isListLoading"`
	IsContentLoading bool                 `json:"isContentLoading"`
	Deleting         []string             `json:"deleting"`
}

// SelectRequest is the body for POST /api/v1/select. A nil pathname clears
// the selection.
type SelectRequest struct {
	Pathname *string `json:"pathname"`
}

// SelectResponse is returned after a selection.
type SelectResponse struct {
	Selected *models.LogicalFile `json:"selected"`
	Content  string              `json:"content"`
}

// ValidateRequest is the body for POST /api/v1/validate.
type ValidateRequest struct {
	Pathname  string `json:"pathname"`
	IsEditing bool   `json:"isEditing"`
}

// CreateRequest is the body for POST /api/v1/create.
type CreateRequest struct {
	Directory   string `json:"directory"`
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
}

// FileResponse is returned after a save or create.
type FileResponse struct {
	File models.LogicalFile `json:"file"`
}

// ValidationErrorResponse is returned with 422 when a pathname is rejected.
type ValidationErrorResponse struct {
	Error      string                  `json:"error"`
	Code       int                     `json:"code"`
	Validation models.ValidationResult `json:"validation"`
}
