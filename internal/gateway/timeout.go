package gateway

import (
	"context"
	"time"

	"github.com/fruitsalade/blobtext/internal/metrics"
	"github.com/fruitsalade/blobtext/pkg/models"
)

// DefaultTimeout is the time limit applied to each gateway call.
const DefaultTimeout = 10 * time.Second

type timeoutGateway struct {
	next  Gateway
	after time.Duration
}

// WithTimeout races every call of gw against a timer. When the timer wins the
// call returns a *TimeoutError; the underlying call is cancelled through its
// context and its late result discarded. A non-positive d uses
// DefaultTimeout.
func WithTimeout(gw Gateway, d time.Duration) Gateway {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutGateway{next: gw, after: d}
}

type result[T any] struct {
	v   T
	err error
}

func race[T any](ctx context.Context, op string, after time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, after)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			metrics.RecordGatewayTimeout(op)
			return zero, &TimeoutError{Op: op, After: after}
		}
		return zero, ctx.Err()
	}
}

func (g *timeoutGateway) List(ctx context.Context) ([]models.RawObject, error) {
	return race(ctx, OpList, g.after, g.next.List)
}

func (g *timeoutGateway) GetContent(ctx context.Context, url string) (string, error) {
	return race(ctx, OpGetContent, g.after, func(ctx context.Context) (string, error) {
		return g.next.GetContent(ctx, url)
	})
}

func (g *timeoutGateway) Put(ctx context.Context, pathname, content string, opts models.PutOptions) (models.PutResult, error) {
	return race(ctx, OpPut, g.after, func(ctx context.Context) (models.PutResult, error) {
		return g.next.Put(ctx, pathname, content, opts)
	})
}

func (g *timeoutGateway) CreateDirectoryMarker(ctx context.Context, pathname string) (models.PutResult, error) {
	return race(ctx, OpMkdir, g.after, func(ctx context.Context) (models.PutResult, error) {
		return g.next.CreateDirectoryMarker(ctx, pathname)
	})
}

func (g *timeoutGateway) Delete(ctx context.Context, urls []string) error {
	_, err := race(ctx, OpDelete, g.after, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Delete(ctx, urls)
	})
	return err
}

func (g *timeoutGateway) Type() string { return g.next.Type() }

func (g *timeoutGateway) Close() error { return g.next.Close() }
