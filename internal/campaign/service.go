// Package campaign owns the campaign lifecycle: editing, launching,
// dispatching and cancelling broadcasts.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/models"
	"broadcast-engine/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Input is the editable part of a campaign.
type Input struct {
	Name            string                 `json:"name"`
	Type            models.CampaignType    `json:"type"`
	TemplateID      string                 `json:"templateId"`
	SegmentID       string                 `json:"segmentId"`
	Criteria        *models.CriteriaTree   `json:"criteria"`
	ContactCategory models.ContactCategory `json:"contactCategory"`
	Variables       map[string]string      `json:"variables"`
	ScheduledAt     *time.Time             `json:"scheduledAt"`
}

// Service manages campaign definitions.
type Service struct {
	campaigns storage.CampaignStore
	templates storage.TemplateStore
	segments  storage.SegmentStore
	messages  storage.MessageStore
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(stores storage.Stores, logger *zap.Logger) *Service {
	return &Service{
		campaigns: stores.Campaigns,
		templates: stores.Templates,
		segments:  stores.Segments,
		messages:  stores.Messages,
		validate:  validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new campaign in DRAFT, or SCHEDULED when it has a
// schedule time.
func (s *Service) Create(ctx context.Context, in Input) (*models.Campaign, error) {
	now := s.now()
	c := &models.Campaign{
		ID:        uuid.NewString(),
		Status:    models.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(c, in)
	if c.ScheduledAt != nil {
		c.Status = models.CampaignScheduled
	}
	if err := s.check(ctx, c); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("Campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("status", string(c.Status)))
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.campaigns.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("campaign %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

// Update edits a DRAFT, SCHEDULED or PAUSED campaign. Setting or clearing
// the schedule moves a campaign between DRAFT and SCHEDULED.
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, apperrors.Conflict("a %s campaign cannot be edited", c.Status)
	}
	apply(c, in)
	c.UpdatedAt = s.now()
	if err := s.check(ctx, c); err != nil {
		return nil, err
	}
	if err := s.campaigns.Update(ctx, c); err != nil {
		return nil, storeError(err, id, "edited")
	}

	switch {
	case c.Status == models.CampaignDraft && c.ScheduledAt != nil:
		c.Status = s.move(ctx, c.ID, models.CampaignDraft, models.CampaignScheduled)
	case c.Status == models.CampaignScheduled && c.ScheduledAt == nil:
		c.Status = s.move(ctx, c.ID, models.CampaignScheduled, models.CampaignDraft)
	}
	return c, nil
}

func (s *Service) move(ctx context.Context, id string, from, to models.CampaignStatus) models.CampaignStatus {
	ok, err := s.campaigns.Transition(ctx, id, []models.CampaignStatus{from}, to, storage.TransitionFields{})
	if err != nil || !ok {
		s.logger.Warn("Campaign status not changed",
			zap.String("campaign_id", id),
			zap.String("to", string(to)),
			zap.Error(err))
		return from
	}
	return to
}

// Delete removes an editable campaign together with its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.Editable() {
		return apperrors.Conflict("a %s campaign cannot be deleted", c.Status)
	}
	if err := s.campaigns.Delete(ctx, id); err != nil {
		return storeError(err, id, "deleted")
	}
	removed, err := s.messages.DeleteByCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign messages: %w", err)
	}
	s.logger.Info("Campaign deleted", zap.String("campaign_id", id), zap.Int64("messages", removed))
	return nil
}

// storeError maps a guarded campaign write failure: the campaign was launched
// or removed after it was read.
func storeError(err error, id, verb string) error {
	switch {
	case errors.Is(err, storage.ErrNotEditable):
		return apperrors.Conflict("campaign %s changed state and cannot be %s", id, verb)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound("campaign %s not found", id)
	}
	return fmt.Errorf("failed to write campaign: %w", err)
}

func apply(c *models.Campaign, in Input) {
	c.Name = strings.TrimSpace(in.Name)
	c.Type = in.Type
	c.TemplateID = in.TemplateID
	c.SegmentID = in.SegmentID
	c.Criteria = in.Criteria
	c.ContactCategory = in.ContactCategory
	c.Variables = in.Variables
	c.ScheduledAt = in.ScheduledAt
}

// check validates required fields, the template reference and the
// targeting.
func (s *Service) check(ctx context.Context, c *models.Campaign) error {
	if err := s.validate.Struct(c); err != nil {
		return apperrors.New(apperrors.KindValidation, "invalid campaign", err)
	}
	if _, err := s.templates.Get(ctx, c.TemplateID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Validation("template %s not found", c.TemplateID)
		}
		return fmt.Errorf("failed to load template: %w", err)
	}

	switch {
	case c.SegmentID != "":
		if _, err := s.segments.Get(ctx, c.SegmentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.Validation("segment %s not found", c.SegmentID)
			}
			return fmt.Errorf("failed to load segment: %w", err)
		}
	case c.Criteria != nil:
		if err := criteria.Validate(*c.Criteria); err != nil {
			return err
		}
	case c.ContactCategory != "":
	default:
		return apperrors.Validation("campaign needs a segment, criteria or contact category")
	}
	return nil
}
