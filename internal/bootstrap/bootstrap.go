// Package bootstrap wires the engine's components from configuration. The
// API and the worker share it so both converge on the same semantics.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"broadcast-engine/config"
	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/gateway"
	"broadcast-engine/internal/lock"
	"broadcast-engine/internal/media"
	"broadcast-engine/internal/queue"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/internal/segment"
	"broadcast-engine/internal/storage"

	"go.uber.org/zap"
)

// Engine holds the wired components.
type Engine struct {
	Stores     storage.Stores
	Segments   *segment.Registry
	Campaigns  *campaign.Service
	Dispatcher *campaign.Dispatcher
	Reconciler *reconcile.Reconciler
	Clicks     *reconcile.ClickTracker
	// Queue is nil unless RabbitMQ is enabled.
	Queue *queue.RabbitMQ

	closers []func(context.Context) error
	logger  *zap.Logger
}

// Build connects to the configured backends and wires the engine.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{logger: logger}

	stores, err := e.storage(ctx, cfg)
	if err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.Stores = stores

	locker, err := e.locker(ctx, cfg)
	if err != nil {
		e.Close(ctx)
		return nil, err
	}

	resolver, err := mediaResolver(ctx, cfg)
	if err != nil {
		e.Close(ctx)
		return nil, err
	}

	if cfg.RabbitMQ.Enabled {
		q, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.DispatchQueue, cfg.RabbitMQ.StatusQueue, logger)
		if err != nil {
			e.Close(ctx)
			return nil, err
		}
		e.Queue = q
		e.closers = append(e.closers, func(context.Context) error { return q.Close() })
	}

	ledger := reconcile.NewLedger(stores, logger)
	watcher := reconcile.NewWatcher(stores, logger)
	e.Segments = segment.NewRegistry(stores, logger)
	e.Campaigns = campaign.NewService(stores, logger)
	e.Reconciler = reconcile.NewReconciler(ledger, watcher, logger)
	e.Clicks = reconcile.NewClickTracker(stores, cfg.Tracking.FallbackURL, logger)

	deps := campaign.Deps{
		Stores:   stores,
		Segments: e.Segments,
		Gateway:  gatewayClient(cfg, logger),
		Media:    resolver,
		Ledger:   ledger,
		Watcher:  watcher,
		Locker:   locker,
	}
	if e.Queue != nil {
		deps.Queue = e.Queue
	}
	e.Dispatcher = campaign.NewDispatcher(deps, campaign.Options{
		BatchSize:     cfg.Dispatch.BatchSize,
		BatchDelay:    cfg.Dispatch.BatchDelay,
		Concurrency:   cfg.Dispatch.Concurrency,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		LockTTL:       cfg.Dispatch.LockTTL,
		SendLease:     cfg.Dispatch.SendLease,
	}, logger)

	return e, nil
}

func (e *Engine) storage(ctx context.Context, cfg *config.Config) (storage.Stores, error) {
	stores, closer, err := OpenStorage(cfg, e.logger)
	if err != nil {
		return storage.Stores{}, err
	}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	return stores, nil
}

// OpenStorage opens the configured store. The returned closer is nil for the
// in-memory driver.
func OpenStorage(cfg *config.Config, logger *zap.Logger) (storage.Stores, func(context.Context) error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("Using in-memory storage; data is lost on restart")
		return storage.NewMemory().Stores(), nil, nil
	case "mongodb", "":
		db, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, logger)
		if err != nil {
			return storage.Stores{}, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return db.Stores(), db.Close, nil
	}
	return storage.Stores{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func (e *Engine) locker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemory(), nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func(context.Context) error { return client.Close() })
	return lock.NewRedis(client, e.logger), nil
}

func gatewayClient(cfg *config.Config, logger *zap.Logger) gateway.Client {
	if cfg.Gateway.Provider == "whatsapp" {
		return gateway.NewWhatsApp(gateway.Config{
			BaseURL:       cfg.Gateway.BaseURL,
			Version:       cfg.Gateway.APIVersion,
			PhoneNumberID: cfg.Gateway.PhoneNumberID,
			AccessToken:   cfg.Gateway.AccessToken,
			Timeout:       cfg.Gateway.Timeout,
		}, logger)
	}
	logger.Warn("Using the logging gateway; no message leaves this process")
	return gateway.NewLogClient(logger)
}

func mediaResolver(ctx context.Context, cfg *config.Config) (media.Resolver, error) {
	web := media.NewHTTP(cfg.Media.HTTPTimeout)
	mux := media.NewMux().Handle("https", web).Handle("http", web)

	s3Resolver, err := media.NewS3(ctx, media.S3Config{
		Region:    cfg.Media.S3Region,
		Endpoint:  cfg.Media.S3Endpoint,
		AccessKey: cfg.Media.S3AccessKey,
		SecretKey: cfg.Media.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return mux.Handle("s3", s3Resolver), nil
}

// Close releases every backend connection.
func (e *Engine) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.Error("Failed to close backend", zap.Error(err))
		}
	}
}
