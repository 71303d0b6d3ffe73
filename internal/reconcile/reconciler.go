package reconcile

import (
	"context"
	"errors"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/models"
	"broadcast-engine/internal/storage"
	"broadcast-engine/pkg/metrics"

	"go.uber.org/zap"
)

// StatusEvent is one delivery status callback from the gateway.
type StatusEvent struct {
	ExternalID string              `json:"externalMessageId"`
	Status     string              `json:"status"`
	Timestamp  time.Time           `json:"timestamp,omitempty"`
	Recipient  string              `json:"recipient,omitempty"`
	Error      *models.ErrorDetail `json:"errorDetail,omitempty"`
}

// Reconciler applies gateway callbacks to message records.
type Reconciler struct {
	ledger  *Ledger
	watcher *Watcher
	logger  *zap.Logger
}

func NewReconciler(ledger *Ledger, watcher *Watcher, logger *zap.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, watcher: watcher, logger: logger}
}

// Handle applies one callback. Duplicate or out-of-order callbacks are
// accepted and ignored. Malformed callbacks and callbacks for unknown
// messages return a reconciliation error; callers log and drop them.
func (r *Reconciler) Handle(ctx context.Context, ev StatusEvent) error {
	metrics.CallbacksReceived.WithLabelValues(ev.Status).Inc()

	if ev.ExternalID == "" {
		metrics.CallbacksApplied.WithLabelValues(ev.Status, "malformed").Inc()
		return apperrors.Reconciliation("callback without message id", nil)
	}
	status, err := models.ParseCallbackStatus(ev.Status)
	if err != nil {
		metrics.CallbacksApplied.WithLabelValues(ev.Status, "malformed").Inc()
		return apperrors.Reconciliation("malformed callback", err)
	}

	change := models.StatusChange{Status: status, At: ev.Timestamp}
	if status == models.StatusFailed {
		change.Error = ev.Error
		if change.Error == nil {
			change.Error = &models.ErrorDetail{Code: "unknown", Message: "gateway reported failure"}
		}
	}

	prev, applied, err := r.ledger.Apply(ctx, storage.MessageKey{ExternalID: ev.ExternalID}, change)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.CallbacksApplied.WithLabelValues(string(status), "unknown_message").Inc()
		return apperrors.Reconciliation("no message for external id "+ev.ExternalID, err)
	}
	if err != nil {
		metrics.CallbacksApplied.WithLabelValues(string(status), "error").Inc()
		return err
	}
	if !applied {
		metrics.CallbacksApplied.WithLabelValues(string(status), "ignored").Inc()
		r.logger.Debug("Callback ignored",
			zap.String("external_id", ev.ExternalID),
			zap.String("current", string(prev.Status)),
			zap.String("incoming", string(status)))
		return nil
	}
	metrics.CallbacksApplied.WithLabelValues(string(status), "applied").Inc()

	r.logger.Info("Message status updated",
		zap.String("message_id", prev.ID),
		zap.String("campaign_id", prev.CampaignID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(status)))

	if prev.Status.Unsettled() {
		if _, err := r.watcher.Check(ctx, prev.CampaignID); err != nil {
			r.logger.Error("Campaign completion check failed", zap.String("campaign_id", prev.CampaignID), zap.Error(err))
		}
	}
	return nil
}
