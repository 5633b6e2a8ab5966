// Package memory provides an in-memory blob store. Objects are keyed by URL
// and listed in insertion order.
package memory

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

// DefaultBaseURL prefixes object URLs when no base is configured.
const DefaultBaseURL = "https://mock.blob.local/"

type object struct {
	raw     models.RawObject
	content string
}

// Store implements gateway.Gateway in memory.
type Store struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]*object
	order   []string
	now     func() time.Time
	suffix  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for UploadedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSuffixFunc replaces the random suffix generator.
func WithSuffixFunc(fn func() string) Option {
	return func(s *Store) { s.suffix = fn }
}

// New creates an empty store. baseURL must end with "/"; an empty value uses
// DefaultBaseURL.
func New(baseURL string, opts ...Option) *Store {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	s := &Store{
		baseURL: baseURL,
		objects: make(map[string]*object),
		now:     time.Now,
		suffix:  pathname.RandomSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the URL prefix of stored objects.
func (s *Store) BaseURL() string {
	return s.baseURL
}

func (s *Store) urlFor(key string) string {
	return s.baseURL + key
}

// store inserts or replaces the object at key. Callers hold s.mu.
func (s *Store) store(key, content, contentType string, uploadedAt time.Time) models.PutResult {
	url := s.urlFor(key)
	obj := &object{
		raw: models.RawObject{
			Pathname:    key,
			URL:         url,
			DownloadURL: url + "?download=1",
			Size:        int64(len(content)),
			UploadedAt:  uploadedAt,
			ContentType: contentType,
		},
		content: content,
	}
	if _, exists := s.objects[url]; exists {
		s.removeOrder(url)
	}
	s.objects[url] = obj
	s.order = append(s.order, url)
	return models.PutResult{Pathname: key, URL: url, DownloadURL: obj.raw.DownloadURL}
}

func (s *Store) removeOrder(url string) {
	for i, u := range s.order {
		if u == url {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return
		}
	}
}

// Seed stores an object under a raw key with an explicit timestamp. Keys
// ending in "/" become directory markers.
func (s *Store) Seed(key, content string, uploadedAt time.Time) models.PutResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	contentType := models.ContentTypeText
	if pathname.IsDir(key) {
		contentType = models.ContentTypeDirectory
		content = ""
	}
	return s.store(key, content, contentType, uploadedAt)
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// List returns every object in insertion order.
func (s *Store) List(ctx context.Context) ([]models.RawObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RawObject, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.objects[url].raw)
	}
	return out, nil
}

// GetContent returns the content stored at url. Query strings are ignored.
func (s *Store) GetContent(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[url]
	if !ok {
		return "", fmt.Errorf("get %s: %w", url, fs.ErrNotExist)
	}
	return obj.content, nil
}

// Put stores content under pathname.
func (s *Store) Put(ctx context.Context, p, content string, opts models.PutOptions) (models.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PutResult{}, err
	}
	if p == "" || pathname.IsDir(p) {
		return models.PutResult{}, fmt.Errorf("put %q: not a file pathname", p)
	}
	key := p
	if opts.AddRandomSuffix {
		key = pathname.Encode(p, s.suffix())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key, content, models.ContentTypeText, s.now()), nil
}

// CreateDirectoryMarker stores a zero-byte directory object.
func (s *Store) CreateDirectoryMarker(ctx context.Context, p string) (models.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PutResult{}, err
	}
	if !pathname.IsDir(p) {
		p += "/"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(p, "", models.ContentTypeDirectory, s.now()), nil
}

// Delete removes the objects at urls.
func (s *Store) Delete(ctx context.Context, urls []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, url := range urls {
		if _, ok := s.objects[url]; ok {
			delete(s.objects, url)
			s.removeOrder(url)
		}
	}
	return nil
}

// Type returns "memory".
func (s *Store) Type() string { return "memory" }

// Close is a no-op.
func (s *Store) Close() error { return nil }
