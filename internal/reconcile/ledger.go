// Package reconcile applies per-message status changes, whether they come
// from the dispatcher's own send outcomes or from gateway callbacks, and
// keeps campaign counters and completion in step with them.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"broadcast-engine/internal/models"
	"broadcast-engine/internal/storage"

	"go.uber.org/zap"
)

// Ledger is the single write path for message status. Every accepted
// transition increments the owning campaign's counters exactly once.
type Ledger struct {
	messages  storage.MessageStore
	campaigns storage.CampaignStore
	logger    *zap.Logger
}

func NewLedger(stores storage.Stores, logger *zap.Logger) *Ledger {
	return &Ledger{
		messages:  stores.Messages,
		campaigns: stores.Campaigns,
		logger:    logger,
	}
}

// Apply moves a message to change.Status if the monotonic rule allows it.
// It returns the message as it was before and whether the change applied.
func (l *Ledger) Apply(ctx context.Context, key storage.MessageKey, change models.StatusChange) (*models.Message, bool, error) {
	prev, applied, err := l.messages.Transition(ctx, key, change)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return prev, false, nil
	}

	inc := models.CountersFor(prev.Status, change.Status)
	if err := l.campaigns.IncrementStats(ctx, prev.CampaignID, inc); err != nil {
		// The message row stays authoritative; retrying would not re-apply.
		l.logger.Error("Failed to increment campaign counters",
			zap.String("campaign_id", prev.CampaignID),
			zap.String("message_id", prev.ID),
			zap.Error(err))
	}
	return prev, true, nil
}

// Watcher promotes RUNNING campaigns to COMPLETED once none of their
// messages still waits for a send attempt.
type Watcher struct {
	messages  storage.MessageStore
	campaigns storage.CampaignStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewWatcher(stores storage.Stores, logger *zap.Logger) *Watcher {
	return &Watcher{
		messages:  stores.Messages,
		campaigns: stores.Campaigns,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check completes the campaign if it is RUNNING and settled. It reports
// whether this call completed it.
func (w *Watcher) Check(ctx context.Context, campaignID string) (bool, error) {
	pending, err := w.messages.CountUnsettled(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("failed to count unsettled messages: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	now := w.now()
	done, err := w.campaigns.Transition(ctx, campaignID,
		[]models.CampaignStatus{models.CampaignRunning}, models.CampaignCompleted,
		storage.TransitionFields{CompletedAt: &now})
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}
	if done {
		w.logger.Info("Campaign completed", zap.String("campaign_id", campaignID))
	}
	return done, nil
}
