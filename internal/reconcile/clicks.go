package reconcile

import (
	"context"
	"errors"
	"strconv"
	"time"

	"broadcast-engine/internal/models"
	"broadcast-engine/internal/storage"
	"broadcast-engine/pkg/metrics"

	"go.uber.org/zap"
)

// ClickTracker records call-to-action clicks and resolves where to send the
// user.
type ClickTracker struct {
	messages    storage.MessageStore
	campaigns   storage.CampaignStore
	templates   storage.TemplateStore
	fallbackURL string
	logger      *zap.Logger
	now         func() time.Time
}

func NewClickTracker(stores storage.Stores, fallbackURL string, logger *zap.Logger) *ClickTracker {
	return &ClickTracker{
		messages:    stores.Messages,
		campaigns:   stores.Campaigns,
		templates:   stores.Templates,
		fallbackURL: fallbackURL,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ParseIndex reads the optional button index path segment. Missing or
// malformed values select the first button.
func ParseIndex(raw string) int {
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// Click records a click on button index of the message carrying token and
// returns the redirect target. It never fails: unknown tokens and lookup
// errors fall back to the configured URL.
func (c *ClickTracker) Click(ctx context.Context, token string, index int) string {
	res, err := c.messages.RecordClick(ctx, token, index, c.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Error("Failed to record click", zap.String("token", token), zap.Error(err))
		}
		return c.fallbackURL
	}

	msg := res.Message
	metrics.Clicks.WithLabelValues(strconv.FormatBool(res.FirstForMessage)).Inc()
	if res.FirstForMessage {
		if err := c.campaigns.IncrementStats(ctx, msg.CampaignID, map[string]int64{models.CounterClicked: 1}); err != nil {
			c.logger.Error("Failed to increment clicked counter", zap.String("campaign_id", msg.CampaignID), zap.Error(err))
		}
	}
	if res.FirstForButton {
		c.logger.Info("Button clicked",
			zap.String("message_id", msg.ID),
			zap.String("campaign_id", msg.CampaignID),
			zap.Int("button", index))
	}

	return c.target(ctx, msg.CampaignID, index)
}

func (c *ClickTracker) target(ctx context.Context, campaignID string, index int) string {
	campaign, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		return c.fallbackURL
	}
	tmpl, err := c.templates.Get(ctx, campaign.TemplateID)
	if err != nil {
		return c.fallbackURL
	}
	if index < len(tmpl.Buttons) && tmpl.Buttons[index].TargetURL != "" {
		return tmpl.Buttons[index].TargetURL
	}
	return c.fallbackURL
}
