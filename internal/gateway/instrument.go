package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/internal/metrics"
	"github.com/fruitsalade/blobtext/pkg/models"
)

type instrumented struct {
	next    Gateway
	backend string
}

// Instrument records metrics and debug logs for every call of gw and wraps
// failures as *Error.
func Instrument(gw Gateway) Gateway {
	return &instrumented{next: gw, backend: gw.Type()}
}

func (g *instrumented) observe(ctx context.Context, op string, start time.Time, err error, fields ...zap.Field) error {
	elapsed := time.Since(start)
	metrics.RecordGatewayOperation(g.backend, op, elapsed, err == nil)

	fields = append(fields,
		zap.String("backend", g.backend),
		zap.String("op", op),
		zap.Duration("duration", elapsed),
	)
	logger := logging.WithContext(ctx)
	if err != nil {
		logger.Debug("gateway call failed", append(fields, zap.Error(err))...)
		return Wrap(op, err)
	}
	logger.Debug("gateway call", fields...)
	return nil
}

func (g *instrumented) List(ctx context.Context) ([]models.RawObject, error) {
	start := time.Now()
	objects, err := g.next.List(ctx)
	if err := g.observe(ctx, OpList, start, err, zap.Int("count", len(objects))); err != nil {
		return nil, err
	}
	return objects, nil
}

func (g *instrumented) GetContent(ctx context.Context, url string) (string, error) {
	start := time.Now()
	content, err := g.next.GetContent(ctx, url)
	if err := g.observe(ctx, OpGetContent, start, err, zap.String("url", url)); err != nil {
		return "", err
	}
	return content, nil
}

func (g *instrumented) Put(ctx context.Context, pathname, content string, opts models.PutOptions) (models.PutResult, error) {
	start := time.Now()
	res, err := g.next.Put(ctx, pathname, content, opts)
	if err := g.observe(ctx, OpPut, start, err, zap.String("pathname", pathname), zap.Int("size", len(content))); err != nil {
		return models.PutResult{}, err
	}
	metrics.RecordContentUpload(int64(len(content)))
	return res, nil
}

func (g *instrumented) CreateDirectoryMarker(ctx context.Context, pathname string) (models.PutResult, error) {
	start := time.Now()
	res, err := g.next.CreateDirectoryMarker(ctx, pathname)
	if err := g.observe(ctx, OpMkdir, start, err, zap.String("pathname", pathname)); err != nil {
		return models.PutResult{}, err
	}
	return res, nil
}

func (g *instrumented) Delete(ctx context.Context, urls []string) error {
	start := time.Now()
	err := g.next.Delete(ctx, urls)
	return g.observe(ctx, OpDelete, start, err, zap.Int("count", len(urls)))
}

func (g *instrumented) Type() string { return g.backend }

func (g *instrumented) Close() error { return g.next.Close() }
