// Package s3 provides an S3-compatible blob store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

// maxDeleteBatch is the DeleteObjects key limit.
const maxDeleteBatch = 1000

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	PublicURL string // URL prefix of stored objects; defaults to Endpoint/Bucket
}

// api is the subset of *s3.Client used by Store.
type api interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store implements gateway.Gateway using S3/MinIO.
type Store struct {
	client    api
	bucket    string
	publicURL string
	suffix    func() string
}

// New creates a new S3 gateway and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true // Required for MinIO
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	store := newStore(client, cfg.Bucket, publicURL)

	// Verify bucket exists
	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return store, nil
}

func newStore(client api, bucket, publicURL string) *Store {
	if !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: publicURL,
		suffix:    pathname.RandomSuffix,
	}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(s.bucket),
		})
		if createErr != nil {
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
		}
		logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	}
	return nil
}

func (s *Store) result(key string) models.PutResult {
	url := s.publicURL + key
	return models.PutResult{Pathname: key, URL: url, DownloadURL: url + "?download=1"}
}

func (s *Store) keyFor(url string) (string, bool) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	key, ok := strings.CutPrefix(url, s.publicURL)
	return key, ok && key != ""
}

// List pages through the bucket.
func (s *Store) List(ctx context.Context) ([]models.RawObject, error) {
	var out []models.RawObject
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			res := s.result(key)
			raw := models.RawObject{
				Pathname:    key,
				URL:         res.URL,
				DownloadURL: res.DownloadURL,
				Size:        aws.ToInt64(obj.Size),
				UploadedAt:  aws.ToTime(obj.LastModified),
				ContentType: models.ContentTypeText,
			}
			if pathname.IsDir(key) && raw.Size == 0 {
				raw.ContentType = models.ContentTypeDirectory
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// GetContent downloads the object at url.
func (s *Store) GetContent(ctx context.Context, url string) (string, error) {
	key, ok := s.keyFor(url)
	if !ok {
		return "", fmt.Errorf("url %s: %w", url, fs.ErrNotExist)
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", fmt.Errorf("get object %s: %w", key, fs.ErrNotExist)
		}
		return "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", key, err)
	}
	return string(data), nil
}

func (s *Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Put uploads content as a text object.
func (s *Store) Put(ctx context.Context, p, content string, opts models.PutOptions) (models.PutResult, error) {
	if p == "" || pathname.IsDir(p) {
		return models.PutResult{}, fmt.Errorf("put %q: not a file pathname", p)
	}
	key := p
	if opts.AddRandomSuffix {
		key = pathname.Encode(p, s.suffix())
	}
	if err := s.put(ctx, key, []byte(content), models.ContentTypeText); err != nil {
		return models.PutResult{}, err
	}
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(content)))
	return s.result(key), nil
}

// CreateDirectoryMarker uploads a zero-byte directory object.
func (s *Store) CreateDirectoryMarker(ctx context.Context, p string) (models.PutResult, error) {
	if !pathname.IsDir(p) {
		p += "/"
	}
	if err := s.put(ctx, p, nil, models.ContentTypeDirectory); err != nil {
		return models.PutResult{}, err
	}
	return s.result(p), nil
}

// Delete removes the objects at urls in batches of up to 1000 keys. URLs
// outside the bucket are ignored.
func (s *Store) Delete(ctx context.Context, urls []string) error {
	ids := make([]types.ObjectIdentifier, 0, len(urls))
	for _, url := range urls {
		if key, ok := s.keyFor(url); ok {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
	}

	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: ids[start:end],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete object %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
		logging.Debug("S3 delete objects", zap.Int("count", end-start))
	}
	return nil
}

// Type returns "s3".
func (s *Store) Type() string { return "s3" }

// Close is a no-op for S3 gateways.
func (s *Store) Close() error { return nil }
