package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys, one per job type.
const (
	KeyDispatch = "dispatch"
	KeyStatus   = "status"
)

// HeaderRetries carries how many times a job was redelivered.
const HeaderRetries = "x-retry-count"

// Publisher hands dispatch batches and status callbacks to the worker pool.
type Publisher interface {
	PublishBatch(ctx context.Context, job campaign.BatchJob) error
	PublishStatus(ctx context.Context, ev reconcile.StatusEvent) error
	Republish(ctx context.Context, key string, body []byte, retries int) error
	Close() error
}

var _ Publisher = (*RabbitMQ)(nil)

type RabbitMQ struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchangeName string
	queues       map[string]string
	logger       *zap.Logger
}

// StartMetricsUpdater starts a goroutine to periodically update queue metrics
func (r *RabbitMQ) StartMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for key, name := range r.queues {
					if q, err := r.ch.QueueInspect(name); err == nil {
						metrics.QueueSize.WithLabelValues(key).Set(float64(q.Messages))
					}
				}
			}
		}
	}()
}

// NewRabbitMQ declares a durable direct exchange with one durable queue per
// routing key.
func NewRabbitMQ(url, exchangeName, dispatchQueue, statusQueue string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	r := &RabbitMQ{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		queues:       map[string]string{KeyDispatch: dispatchQueue, KeyStatus: statusQueue},
		logger:       logger,
	}
	if err := r.declare(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) declare() error {
	err := r.ch.ExchangeDeclare(
		r.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %v", err)
	}

	for key, name := range r.queues {
		q, err := r.ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %v", name, err)
		}
		if err := r.ch.QueueBind(q.Name, key, r.exchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %v", name, err)
		}
	}
	return nil
}

// Channel exposes the channel for consumers.
func (r *RabbitMQ) Channel() *amqp.Channel {
	return r.ch
}

// Queue returns the queue bound to a routing key.
func (r *RabbitMQ) Queue(key string) string {
	return r.queues[key]
}

func (r *RabbitMQ) PublishBatch(ctx context.Context, job campaign.BatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %v", err)
	}
	return r.publish(ctx, KeyDispatch, body, amqp.Table{
		"campaign_id": job.CampaignID,
		"run_id":      job.RunID,
	})
}

func (r *RabbitMQ) PublishStatus(ctx context.Context, ev reconcile.StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %v", err)
	}
	return r.publish(ctx, KeyStatus, body, amqp.Table{
		"external_id": ev.ExternalID,
		"status":      ev.Status,
	})
}

// Republish puts a failed job back on its queue with an incremented retry
// count.
func (r *RabbitMQ) Republish(ctx context.Context, key string, body []byte, retries int) error {
	return r.publish(ctx, key, body, amqp.Table{HeaderRetries: int32(retries)})
}

func (r *RabbitMQ) publish(ctx context.Context, key string, body []byte, headers amqp.Table) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	headers["job_type"] = key
	err := r.ch.PublishWithContext(ctx,
		r.exchangeName,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      headers,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}

// StatusSink forwards webhook callbacks to the status queue.
type StatusSink struct {
	Publisher Publisher
}

func (s StatusSink) Handle(ctx context.Context, ev reconcile.StatusEvent) error {
	return s.Publisher.PublishStatus(ctx, ev)
}

// Retries reads the retry count header of a delivery.
func Retries(headers amqp.Table) int {
	switch v := headers[HeaderRetries].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
