package app

import (
	"context"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/clock/system"
	"github.com/JakeFAU/rankcrawl/internal/config"
	"github.com/JakeFAU/rankcrawl/internal/crawl"
	"github.com/JakeFAU/rankcrawl/internal/id/uuid"
	"github.com/JakeFAU/rankcrawl/internal/metrics"
	"github.com/JakeFAU/rankcrawl/internal/progress"
	"github.com/JakeFAU/rankcrawl/internal/progress/sinks"
	"github.com/JakeFAU/rankcrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/rankcrawl/internal/storage"
	"github.com/JakeFAU/rankcrawl/internal/storage/gcs"
	"github.com/JakeFAU/rankcrawl/internal/storage/local"
	"github.com/JakeFAU/rankcrawl/internal/storage/postgres"
	"github.com/JakeFAU/rankcrawl/internal/storage/redis"
	"github.com/JakeFAU/rankcrawl/internal/telemetry"
	"github.com/JakeFAU/rankcrawl/internal/upstream"
)

// Build wires a Service from configuration: the store backend, the upstream
// client, the progress hub with its sinks, and tracing. reg receives the
// progress collectors; nil means the default registerer.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func(context.Context) error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i](ctx); closeErr != nil {
				logger.Warn("release after failed build", zap.Error(closeErr))
			}
		}
		return nil, err
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fail(fmt.Errorf("init tracing: %w", err))
	}
	closers = append(closers, tp.Shutdown)

	loc, err := system.LoadLocation(cfg.Timezone)
	if err != nil {
		return fail(fmt.Errorf("load timezone: %w", err))
	}
	clk := system.New(loc)

	store, closeStore, err := storage.Open(ctx, StorageOptions(cfg.Store), logger.Named("store"))
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return closeStore() })

	client, err := upstream.New(upstream.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		UserAgent:   cfg.Upstream.UserAgent,
		Timeout:     cfg.UpstreamTimeout(),
		MaxRPS:      cfg.Upstream.MaxRPS,
		Burst:       cfg.Upstream.Burst,
		ResultField: cfg.Upstream.ResultField,
		Headers:     cfg.Upstream.Headers,
	})
	if err != nil {
		return fail(fmt.Errorf("build upstream client: %w", err))
	}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fail(err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}
	if cfg.PubSub.TopicName != "" {
		psClient, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("create pubsub client: %w", err))
		}
		pub := pubsub.New(psClient)
		closers = append(closers, func(context.Context) error {
			pub.Close()
			if err := psClient.Close(); err != nil {
				return fmt.Errorf("close pubsub client: %w", err)
			}
			return nil
		})
		hubSinks = append(hubSinks, sinks.NewNotifySink(pub, cfg.PubSub.TopicName))
		logger.Info("run notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("progress"),
	}, hubSinks...)
	closers = append(closers, hub.Close)

	quota := crawl.NewQuotaGuard(store, clk, loc, logger.Named("quota"))
	metrics.Init()
	metrics.SetQuotaSource(func() (int, int) {
		rec, limit := quota.Usage()
		return rec.Count, limit
	})

	checkpoints := crawl.NewCheckpointStore(store)
	history := crawl.NewHistoryStore(store, cfg.History.Limit)
	runner := crawl.NewRunner(
		client,
		quota,
		checkpoints,
		history,
		crawl.NewLogStream(0),
		hub,
		clk,
		crawl.TimerWaiter(),
		uuid.New(),
		crawl.RunnerConfig{},
		logger.Named("runner"),
	)

	return New(Deps{
		Runner:      runner,
		Settings:    crawl.NewSettingsStore(store, cfg.Crawl.Clamp()),
		Selection:   crawl.NewSelectionStore(store, cfg.Selection),
		Checkpoints: checkpoints,
		History:     history,
		Quota:       quota,
		Location:    loc,
		Logger:      logger,
		Closers:     closers,
	}), nil
}

// StorageOptions maps the store config section to backend options.
func StorageOptions(c config.StoreConfig) storage.Options {
	return storage.Options{
		Backend: c.Backend,
		Local:   local.Config{BaseDir: c.Local.Dir},
		Postgres: postgres.Config{
			DSN:      c.Postgres.DSN,
			Table:    c.Postgres.Table,
			MaxConns: c.Postgres.MaxConns,
		},
		Redis: redis.Config{URL: c.Redis.URL, Prefix: c.Redis.Prefix},
		GCS:   gcs.Config{Bucket: c.GCS.Bucket, Prefix: c.GCS.Prefix},
	}
}
