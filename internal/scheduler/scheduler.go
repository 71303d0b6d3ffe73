// Package scheduler launches SCHEDULED campaigns once their time has come.
package scheduler

import (
	"context"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/models"

	"go.uber.org/zap"
)

// Due lists the campaigns ready to launch.
type Due interface {
	ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error)
}

// Launcher starts a campaign.
type Launcher interface {
	Launch(ctx context.Context, id, trigger string) (*campaign.LaunchResult, error)
}

type Scheduler struct {
	due      Due
	launcher Launcher
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(due Due, launcher Launcher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		due:      due,
		launcher: launcher,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start polls for due campaigns until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick launches every due campaign and returns how many started. A campaign
// that fails to launch, including one with no recipients yet, stays
// SCHEDULED and is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.due.ListDue(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to list due campaigns", zap.Error(err))
		return 0
	}

	launched := 0
	for _, c := range due {
		res, err := s.launcher.Launch(ctx, c.ID, campaign.TriggerScheduler)
		switch {
		case err == nil:
			launched++
			s.logger.Info("Scheduled campaign launched",
				zap.String("campaign_id", c.ID),
				zap.Int("recipients", res.TotalContacts))
		case apperrors.IsKind(err, apperrors.KindConflict):
			s.logger.Debug("Scheduled campaign already running", zap.String("campaign_id", c.ID))
		default:
			s.logger.Warn("Scheduled campaign launch failed",
				zap.String("campaign_id", c.ID),
				zap.Error(err))
		}
	}
	return launched
}
