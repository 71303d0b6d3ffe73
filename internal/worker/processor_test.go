package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/queue"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/internal/storage"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockBatches struct{ mock.Mock }

func (m *MockBatches) ProcessBatch(ctx context.Context, job campaign.BatchJob) (bool, error) {
	args := m.Called(job)
	return args.Bool(0), args.Error(1)
}

type MockStatuses struct{ mock.Mock }

func (m *MockStatuses) Handle(ctx context.Context, ev reconcile.StatusEvent) error {
	return m.Called(ev).Error(0)
}

type MockRepublisher struct{ mock.Mock }

func (m *MockRepublisher) Republish(ctx context.Context, key string, body []byte, retries int) error {
	return m.Called(key, body, retries).Error(0)
}

type acks struct {
	acked, nacked, requeued int
}

func (a *acks) Ack(uint64, bool) error { a.acked++; return nil }
func (a *acks) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	if requeue {
		a.requeued++
	}
	return nil
}
func (a *acks) Reject(uint64, bool) error { return nil }

func delivery(t *testing.T, key string, v any, headers amqp.Table) (amqp.Delivery, *acks) {
	body, err := json.Marshal(v)
	require.NoError(t, err)
	a := &acks{}
	return amqp.Delivery{Acknowledger: a, RoutingKey: key, Headers: headers, Body: body}, a
}

func newTestWorker() (*Worker, *MockBatches, *MockStatuses, *MockRepublisher) {
	b, s, r := new(MockBatches), new(MockStatuses), new(MockRepublisher)
	w := NewWorker(nil, b, s, r, zap.NewNop()).WithRetry(2, time.Millisecond)
	w.sleep = func(time.Duration) {}
	return w, b, s, r
}

func TestDispatchJobAcked(t *testing.T) {
	w, batches, _, _ := newTestWorker()
	job := campaign.BatchJob{CampaignID: "c1", RunID: "r1", MessageIDs: []string{"m1", "m2"}}
	batches.On("ProcessBatch", job).Return(true, nil).Once()

	d, a := delivery(t, queue.KeyDispatch, job, nil)
	w.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, a.acked)
	batches.AssertExpectations(t)
}

func TestStatusForUnknownMessageIsRetried(t *testing.T) {
	w, _, statuses, retry := newTestWorker()
	ev := reconcile.StatusEvent{ExternalID: "wamid.1", Status: "delivered"}
	statuses.On("Handle", ev).Return(apperrors.Reconciliation("no message", storage.ErrNotFound))

	d, a := delivery(t, queue.KeyStatus, ev, amqp.Table{"job_type": queue.KeyStatus})
	retry.On("Republish", queue.KeyStatus, d.Body, 1).Return(nil).Once()
	w.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, a.acked)
	retry.AssertExpectations(t)
}

func TestMalformedStatusIsDropped(t *testing.T) {
	w, _, statuses, retry := newTestWorker()
	ev := reconcile.StatusEvent{ExternalID: "wamid.1", Status: "exploded"}
	statuses.On("Handle", ev).Return(apperrors.Reconciliation("malformed callback", errors.New("unknown status")))

	d, a := delivery(t, queue.KeyStatus, ev, nil)
	w.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, a.nacked)
	assert.Equal(t, 0, a.requeued)
	retry.AssertNotCalled(t, "Republish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetriesExhausted(t *testing.T) {
	w, batches, _, retry := newTestWorker()
	job := campaign.BatchJob{CampaignID: "c1", MessageIDs: []string{"m1"}}
	batches.On("ProcessBatch", job).Return(false, errors.New("mongo unavailable"))

	d, a := delivery(t, queue.KeyDispatch, job, amqp.Table{queue.HeaderRetries: int32(2)})
	w.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, a.acked)
	retry.AssertNotCalled(t, "Republish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRepublishFailureRequeues(t *testing.T) {
	w, batches, _, retry := newTestWorker()
	job := campaign.BatchJob{CampaignID: "c1", MessageIDs: []string{"m1"}}
	batches.On("ProcessBatch", job).Return(false, errors.New("mongo unavailable"))

	d, a := delivery(t, queue.KeyDispatch, job, nil)
	retry.On("Republish", queue.KeyDispatch, d.Body, 1).Return(errors.New("channel closed"))
	w.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, a.requeued)
}

func TestUnknownJobTypeIsDropped(t *testing.T) {
	w, _, _, _ := newTestWorker()
	d, a := delivery(t, "billing", map[string]string{}, nil)
	w.handleDelivery(context.Background(), d)
	assert.Equal(t, 1, a.nacked)
}

func TestCalculateBackoff(t *testing.T) {
	w := &Worker{baseDelay: 10 * time.Second}
	for retry := 1; retry <= 3; retry++ {
		full := 10 * time.Second * time.Duration(1<<(retry-1))
		got := w.calculateBackoff(retry)
		assert.GreaterOrEqual(t, got, full/2)
		assert.LessOrEqual(t, got, full)
	}
}
