package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"broadcast-engine/config"
	"broadcast-engine/internal/bootstrap"
	"broadcast-engine/internal/queue"
	"broadcast-engine/internal/worker"
	"broadcast-engine/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger("broadcast-worker", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.RabbitMQ.Enabled {
		logger.Fatal("The worker needs RabbitMQ; set rabbitmq.enabled or RABBITMQ_URI")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := bootstrap.Build(ctx, cfg, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Close(context.Background())

	// Initialize worker
	w := worker.NewWorker(engine.Queue.Channel(), engine.Dispatcher, engine.Reconciler, engine.Queue, logger.Desugar()).
		WithRetry(cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)

	// Start consuming messages
	for _, key := range []string{queue.KeyDispatch, queue.KeyStatus} {
		if err := w.Start(ctx, engine.Queue.Queue(key), cfg.RabbitMQ.Prefetch); err != nil {
			logger.Fatalf("Failed to start %s consumer: %v", key, err)
		}
	}
	engine.Queue.StartMetricsUpdater(ctx)

	logger.Info("Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Worker shutting down")
}
