// Package gateway defines the storage gateway used by the explorer and the
// decorators and factory that build one from configuration.
package gateway

import (
	"context"

	"github.com/fruitsalade/blobtext/pkg/models"
)

// Gateway is a flat blob store. Implementations handle raw object I/O (memory,
// local filesystem, S3, PostgreSQL, a remote blob API). Hierarchy is derived by
// the caller from pathnames.
type Gateway interface {
	// List returns every raw object in the store.
	List(ctx context.Context) ([]models.RawObject, error)

	// GetContent returns the text content of the object at url.
	GetContent(ctx context.Context, url string) (string, error)

	// Put stores content under pathname, optionally with a random suffix
	// inserted before the extension.
	Put(ctx context.Context, pathname, content string, opts models.PutOptions) (models.PutResult, error)

	// CreateDirectoryMarker stores a zero-byte object for a pathname ending
	// in "/" with content type application/x-directory.
	CreateDirectoryMarker(ctx context.Context, pathname string) (models.PutResult, error)

	// Delete removes the objects at urls in one call. Unknown URLs are
	// ignored.
	Delete(ctx context.Context, urls []string) error

	// Type returns the backend type identifier.
	Type() string

	// Close releases any resources held by the gateway.
	Close() error
}
