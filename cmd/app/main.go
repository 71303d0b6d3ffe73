package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broadcast-engine/api/handlers"
	"broadcast-engine/api/router"
	"broadcast-engine/config"
	"broadcast-engine/internal/bootstrap"
	"broadcast-engine/internal/queue"
	"broadcast-engine/internal/scheduler"
	"broadcast-engine/internal/server"
	"broadcast-engine/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may be set already
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger("broadcast-app", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := bootstrap.Build(ctx, cfg, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Close(context.Background())

	// Callbacks go through the worker pool when there is one
	var sink handlers.StatusSink = engine.Reconciler
	if engine.Queue != nil {
		sink = queue.StatusSink{Publisher: engine.Queue}
		engine.Queue.StartMetricsUpdater(ctx)
	}

	if cfg.Dispatch.ResumeOnStartup {
		if err := engine.Dispatcher.Recover(ctx); err != nil {
			logger.Errorf("Failed to resume running campaigns: %v", err)
		}
	}

	if cfg.Scheduler.Enabled {
		scheduler.New(engine.Stores.Campaigns, engine.Dispatcher, cfg.Scheduler.Interval, logger.Desugar()).Start(ctx)
		logger.Infof("Campaign scheduler started, polling every %s", cfg.Scheduler.Interval)
	}

	// Initialize server
	srv := server.NewServer(cfg, logger, router.Handlers{
		Campaigns: handlers.NewCampaignHandler(engine.Campaigns, engine.Dispatcher, engine.Stores.Messages, logger.Desugar()),
		Segments:  handlers.NewSegmentHandler(engine.Segments, logger.Desugar()),
		Webhook:   handlers.NewWebhookHandler(logger.Desugar(), sink, cfg.Gateway.VerifyToken, cfg.Gateway.AppSecret),
		Tracking:  handlers.NewTrackingHandler(engine.Clicks),
	})

	// Start server
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()

	// Shutdown server
	if err := srv.Shutdown(); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		engine.Dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn("Dispatch still running at shutdown; unsent messages stay PENDING until resumed")
	}
}
