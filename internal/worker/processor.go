package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/queue"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/internal/storage"
	"broadcast-engine/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// BatchProcessor sends one dispatch batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, job campaign.BatchJob) (bool, error)
}

// StatusHandler applies one delivery callback.
type StatusHandler interface {
	Handle(ctx context.Context, ev reconcile.StatusEvent) error
}

// Republisher puts a failed job back on its queue.
type Republisher interface {
	Republish(ctx context.Context, key string, body []byte, retries int) error
}

type Worker struct {
	channel    *amqp.Channel
	batches    BatchProcessor
	statuses   StatusHandler
	retry      Republisher
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
}

func NewWorker(channel *amqp.Channel, batches BatchProcessor, statuses StatusHandler, retry Republisher, logger *zap.Logger) *Worker {
	return &Worker{
		channel:    channel,
		batches:    batches,
		statuses:   statuses,
		retry:      retry,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  10 * time.Second,
		sleep:      time.Sleep,
	}
}

// WithRetry overrides the retry budget and base backoff.
func (w *Worker) WithRetry(maxRetries int, baseDelay time.Duration) *Worker {
	if maxRetries > 0 {
		w.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		w.baseDelay = baseDelay
	}
	return w
}

// Start consumes queueName until the delivery channel closes.
func (w *Worker) Start(ctx context.Context, queueName string, prefetch int) error {
	if prefetch > 0 {
		if err := w.channel.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	msgs, err := w.channel.Consume(
		queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			w.handleDelivery(ctx, msg)
		}
		w.logger.Info("Consumer stopped", zap.String("queue", queueName))
	}()

	return nil
}

func (w *Worker) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	jobType, _ := msg.Headers["job_type"].(string)
	if jobType == "" {
		jobType = msg.RoutingKey
	}

	err := w.process(ctx, jobType, msg.Body)
	if err == nil {
		msg.Ack(false)
		return
	}
	if !retryable(err) {
		w.logger.Warn("Dropping job",
			zap.String("job_type", jobType),
			zap.Error(err),
			zap.String("body", string(msg.Body)))
		msg.Nack(false, false)
		return
	}
	w.handleError(ctx, jobType, msg, err)
}

func (w *Worker) process(ctx context.Context, jobType string, body []byte) error {
	switch jobType {
	case queue.KeyDispatch:
		var job campaign.BatchJob
		if err := json.Unmarshal(body, &job); err != nil {
			return apperrors.New(apperrors.KindValidation, "malformed batch job", err)
		}
		proceed, err := w.batches.ProcessBatch(ctx, job)
		if err != nil {
			return err
		}
		if !proceed {
			w.logger.Info("Batch skipped",
				zap.String("campaign_id", job.CampaignID),
				zap.Int("messages", len(job.MessageIDs)))
		}
		return nil

	case queue.KeyStatus:
		var ev reconcile.StatusEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return apperrors.New(apperrors.KindValidation, "malformed status event", err)
		}
		return w.statuses.Handle(ctx, ev)
	}
	return apperrors.Validation("unknown job type %q", jobType)
}

// retryable reports whether a job may succeed later. A callback for an
// unknown message may race the dispatcher storing its external id.
func retryable(err error) bool {
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Kind {
		case apperrors.KindValidation, apperrors.KindReconciliation:
			return false
		}
	}
	return true
}

func (w *Worker) handleError(ctx context.Context, jobType string, msg amqp.Delivery, err error) {
	retries := queue.Retries(msg.Headers) + 1
	w.logger.Error("Failed to process job",
		zap.Error(err),
		zap.String("job_type", jobType),
		zap.Int("retry", retries))
	metrics.JobRetries.WithLabelValues(jobType).Inc()

	if retries > w.maxRetries {
		w.logger.Error("Max retries reached, dropping job",
			zap.String("job_type", jobType),
			zap.String("body", string(msg.Body)))
		msg.Ack(false)
		return
	}

	w.sleep(w.calculateBackoff(retries))

	if err := w.retry.Republish(ctx, jobType, msg.Body, retries); err != nil {
		w.logger.Error("Failed to republish job", zap.Error(err))
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

func (w *Worker) calculateBackoff(retryCount int) time.Duration {
	// Exponential backoff with jitter
	backoff := float64(w.baseDelay) * math.Pow(2, float64(retryCount-1))
	jitter := (rand.Float64()*0.5 + 0.5) // 50% jitter
	return time.Duration(backoff * jitter)
}
