// Package storage selects the crawl.Store backend named in configuration.
// Each backend lives in its own subpackage.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
	"github.com/JakeFAU/rankcrawl/internal/storage/gcs"
	"github.com/JakeFAU/rankcrawl/internal/storage/local"
	"github.com/JakeFAU/rankcrawl/internal/storage/memory"
	"github.com/JakeFAU/rankcrawl/internal/storage/postgres"
	"github.com/JakeFAU/rankcrawl/internal/storage/redis"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGCS      = "gcs"
)

// Options carries the settings for every backend; only the selected one is read.
type Options struct {
	Backend  string
	Local    local.Config
	Postgres postgres.Config
	Redis    redis.Config
	GCS      gcs.Config
}

// CloseFunc releases backend resources.
type CloseFunc func() error

// Open builds the configured backend.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (crawl.Store, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendMemory:
		logger.Warn("using in-memory crawl store; state is lost on restart")
		return memory.New(), noop, nil
	case BackendLocal:
		store, err := local.New(opts.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		return store, noop, nil
	case BackendPostgres:
		store, err := postgres.New(ctx, opts.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	case BackendRedis:
		store, err := redis.New(ctx, opts.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, store.Close, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS client: %w", err)
		}
		if _, err := client.Bucket(opts.GCS.Bucket).Attrs(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close GCS client after bucket check failure", zap.Error(closeErr))
			}
			return nil, nil, fmt.Errorf("get GCS bucket %q attributes: %w", opts.GCS.Bucket, err)
		}
		store, err := gcs.New(client, opts.GCS)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs store: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
