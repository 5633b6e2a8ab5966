// Package postgres provides a PostgreSQL-backed blob store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

const schema = `
CREATE TABLE IF NOT EXISTS blob_objects (
	pathname     TEXT PRIMARY KEY,
	content      BYTEA NOT NULL DEFAULT ''::bytea,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL DEFAULT 0,
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS blob_objects_uploaded_at_idx ON blob_objects (uploaded_at);
`

// Config holds PostgreSQL gateway settings.
type Config struct {
	DatabaseURL string
	BaseURL     string // URL prefix of stored objects
}

// Store implements gateway.Gateway on a blob_objects table.
type Store struct {
	db      *sql.DB
	baseURL string
	suffix  func() string
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewWithDB(db, cfg.BaseURL)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open database handle.
func NewWithDB(db *sql.DB, baseURL string) *Store {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Store{db: db, baseURL: baseURL, suffix: pathname.RandomSuffix}
}

// Migrate creates the blob_objects table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate blob_objects: %w", err)
	}
	logging.Debug("blob_objects schema ready")
	return nil
}

func (s *Store) result(key string) models.PutResult {
	url := s.baseURL + key
	return models.PutResult{Pathname: key, URL: url, DownloadURL: url + "?download=1"}
}

func (s *Store) keyFor(url string) (string, bool) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	key, ok := strings.CutPrefix(url, s.baseURL)
	return key, ok && key != ""
}

// List returns every object ordered by upload time.
func (s *Store) List(ctx context.Context) ([]models.RawObject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pathname, content_type, size, uploaded_at FROM blob_objects ORDER BY uploaded_at, pathname`)
	if err != nil {
		return nil, fmt.Errorf("query blob_objects: %w", err)
	}
	defer rows.Close()

	var out []models.RawObject
	for rows.Next() {
		var obj models.RawObject
		if err := rows.Scan(&obj.Pathname, &obj.ContentType, &obj.Size, &obj.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan blob_objects: %w", err)
		}
		res := s.result(obj.Pathname)
		obj.URL, obj.DownloadURL = res.URL, res.DownloadURL
		obj.UploadedAt = obj.UploadedAt.UTC()
		out = append(out, obj)
	}
	return out, rows.Err()
}

// GetContent returns the content of the object at url.
func (s *Store) GetContent(ctx context.Context, url string) (string, error) {
	key, ok := s.keyFor(url)
	if !ok {
		return "", fmt.Errorf("url %s: %w", url, fs.ErrNotExist)
	}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM blob_objects WHERE pathname = $1`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get %s: %w", key, fs.ErrNotExist)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return string(content), nil
}

func (s *Store) upsert(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blob_objects (pathname, content, content_type, size, uploaded_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (pathname) DO UPDATE
		 SET content = EXCLUDED.content, content_type = EXCLUDED.content_type,
		     size = EXCLUDED.size, uploaded_at = EXCLUDED.uploaded_at`,
		key, content, contentType, len(content))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Put stores content under pathname.
func (s *Store) Put(ctx context.Context, p, content string, opts models.PutOptions) (models.PutResult, error) {
	if p == "" || pathname.IsDir(p) {
		return models.PutResult{}, fmt.Errorf("put %q: not a file pathname", p)
	}
	key := p
	if opts.AddRandomSuffix {
		key = pathname.Encode(p, s.suffix())
	}
	if err := s.upsert(ctx, key, []byte(content), models.ContentTypeText); err != nil {
		return models.PutResult{}, err
	}
	return s.result(key), nil
}

// CreateDirectoryMarker stores a zero-byte directory row.
func (s *Store) CreateDirectoryMarker(ctx context.Context, p string) (models.PutResult, error) {
	if !pathname.IsDir(p) {
		p += "/"
	}
	if err := s.upsert(ctx, p, []byte{}, models.ContentTypeDirectory); err != nil {
		return models.PutResult{}, err
	}
	return s.result(p), nil
}

// Delete removes the rows for urls in one statement.
func (s *Store) Delete(ctx context.Context, urls []string) error {
	keys := make([]string, 0, len(urls))
	for _, url := range urls {
		if key, ok := s.keyFor(url); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blob_objects WHERE pathname = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("delete blob_objects: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Debug("postgres delete", zap.Int("requested", len(keys)), zap.Int64("deleted", n))
	return nil
}

// Type returns "postgres".
func (s *Store) Type() string { return "postgres" }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
