// Package local provides a local filesystem blob store.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

// markerName is the hidden file that stands for a directory marker object.
const markerName = ".blobdir"

const tempPattern = ".blobtext-*.tmp"

// Config holds local filesystem gateway settings.
type Config struct {
	RootPath   string
	BaseURL    string // URL prefix of stored objects, ending with "/"
	CreateDirs bool
}

// Store implements gateway.Gateway on the local filesystem.
type Store struct {
	rootPath string
	baseURL  string
	suffix   func() string
}

// New creates a new local filesystem gateway.
func New(cfg Config) (*Store, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	// Ensure root exists
	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Store{
		rootPath: filepath.Clean(cfg.RootPath),
		baseURL:  baseURL,
		suffix:   pathname.RandomSuffix,
	}, nil
}

func (s *Store) fullPath(key string) (string, error) {
	rel := filepath.FromSlash(pathname.TrimDir(key))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	for _, seg := range pathname.Segments(key) {
		if seg == markerName || strings.HasPrefix(seg, ".blobtext-") {
			return "", fmt.Errorf("invalid key %q: reserved name", key)
		}
	}
	if pathname.IsDir(key) {
		return filepath.Join(s.rootPath, rel, markerName), nil
	}
	return filepath.Join(s.rootPath, rel), nil
}

func (s *Store) keyFor(url string) (string, error) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	key, ok := strings.CutPrefix(url, s.baseURL)
	if !ok || key == "" {
		return "", fmt.Errorf("url %s: %w", url, fs.ErrNotExist)
	}
	return key, nil
}

func (s *Store) result(key string) models.PutResult {
	url := s.baseURL + key
	return models.PutResult{Pathname: key, URL: url, DownloadURL: url + "?download=1"}
}

// List walks the root directory and returns every stored object.
func (s *Store) List(ctx context.Context) ([]models.RawObject, error) {
	var out []models.RawObject
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".blobtext-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.rootPath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		obj := models.RawObject{
			Size:        info.Size(),
			UploadedAt:  info.ModTime().UTC(),
			ContentType: models.ContentTypeText,
		}
		if d.Name() == markerName {
			key = strings.TrimSuffix(key, markerName)
			obj.Size = 0
			obj.ContentType = models.ContentTypeDirectory
		}
		res := s.result(key)
		obj.Pathname, obj.URL, obj.DownloadURL = key, res.URL, res.DownloadURL
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.rootPath, err)
	}
	return out, nil
}

// GetContent reads the object at url.
func (s *Store) GetContent(_ context.Context, url string) (string, error) {
	key, err := s.keyFor(url)
	if err != nil {
		return "", err
	}
	path, err := s.fullPath(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

// Put writes content atomically.
func (s *Store) Put(_ context.Context, p, content string, opts models.PutOptions) (models.PutResult, error) {
	if pathname.IsDir(p) {
		return models.PutResult{}, fmt.Errorf("put %q: not a file pathname", p)
	}
	key := p
	if opts.AddRandomSuffix {
		key = pathname.Encode(p, s.suffix())
	}
	path, err := s.fullPath(key)
	if err != nil {
		return models.PutResult{}, err
	}
	if err := writeAtomic(path, []byte(content)); err != nil {
		return models.PutResult{}, fmt.Errorf("put %s: %w", key, err)
	}
	return s.result(key), nil
}

// CreateDirectoryMarker writes an empty marker file inside the directory.
func (s *Store) CreateDirectoryMarker(_ context.Context, p string) (models.PutResult, error) {
	if !pathname.IsDir(p) {
		p += "/"
	}
	path, err := s.fullPath(p)
	if err != nil {
		return models.PutResult{}, err
	}
	if err := writeAtomic(path, nil); err != nil {
		return models.PutResult{}, fmt.Errorf("mkdir %s: %w", p, err)
	}
	return s.result(p), nil
}

// Delete removes the objects at urls. Missing objects are ignored.
func (s *Store) Delete(_ context.Context, urls []string) error {
	for _, url := range urls {
		key, err := s.keyFor(url)
		if err != nil {
			continue
		}
		path, err := s.fullPath(key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		// Drop directories left empty, stopping at the first non-empty one.
		for dir := filepath.Dir(path); dir != s.rootPath && strings.HasPrefix(dir, s.rootPath); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}
	return nil
}

// Type returns "local".
func (s *Store) Type() string { return "local" }

// Close is a no-op for local gateways.
func (s *Store) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
