package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/gateway/local"
	"github.com/fruitsalade/blobtext/internal/gateway/memory"
	"github.com/fruitsalade/blobtext/internal/gateway/postgres"
	"github.com/fruitsalade/blobtext/internal/gateway/remote"
	s3gateway "github.com/fruitsalade/blobtext/internal/gateway/s3"
	"github.com/fruitsalade/blobtext/internal/logging"
)

// Config selects and configures a gateway backend.
type Config struct {
	Backend string // "memory", "local", "s3", "postgres" or "remote"
	Timeout time.Duration

	// ObjectBaseURL prefixes object URLs of the memory, local and postgres
	// backends.
	ObjectBaseURL string

	LocalPath string

	S3 s3gateway.Config

	DatabaseURL string

	RemoteURL   string
	RemoteToken string
}

// New creates the configured backend wrapped with instrumentation and the
// per-call timeout.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	gw, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s gateway: %w", cfg.Backend, err)
	}
	logging.Info("storage gateway ready",
		zap.String("backend", gw.Type()),
		zap.Duration("timeout", cfg.Timeout))
	return WithTimeout(Instrument(gw), cfg.Timeout), nil
}

func newBackend(ctx context.Context, cfg Config) (Gateway, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(cfg.ObjectBaseURL), nil
	case "local":
		return local.New(local.Config{
			RootPath:   cfg.LocalPath,
			BaseURL:    cfg.ObjectBaseURL,
			CreateDirs: true,
		})
	case "s3":
		return s3gateway.New(ctx, cfg.S3)
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DatabaseURL: cfg.DatabaseURL,
			BaseURL:     cfg.ObjectBaseURL,
		})
	case "remote":
		return remote.New(remote.Config{
			BaseURL:   cfg.RemoteURL,
			AuthToken: cfg.RemoteToken,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Backend)
	}
}
