// Package segment persists named criteria trees and keeps their cached sizes
// current.
package segment

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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSampleSize bounds preview samples.
const DefaultSampleSize = 10

// Input is the writable part of a segment.
type Input struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Type        models.SegmentType  `json:"type"`
	Criteria    models.CriteriaTree `json:"criteria"`
}

// Preview is the live evaluation of an unsaved criteria tree.
type Preview struct {
	ContactCount int64             `json:"contactCount"`
	Sample       []*models.Contact `json:"sample"`
}

type Registry struct {
	contacts  storage.ContactStore
	segments  storage.SegmentStore
	campaigns storage.CampaignStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewRegistry(stores storage.Stores, logger *zap.Logger) *Registry {
	return &Registry{
		contacts:  stores.Contacts,
		segments:  stores.Segments,
		campaigns: stores.Campaigns,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new segment. A STATIC segment is pinned immediately: the
// contacts its criteria matches now are tagged and the criteria becomes the
// tag rule.
func (r *Registry) Create(ctx context.Context, in Input) (*models.Segment, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	p, err := criteria.CompileAudience(in.Criteria)
	if err != nil {
		return nil, err
	}

	now := r.now()
	seg := &models.Segment{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Type:        segmentType(in.Type),
		Criteria:    in.Criteria,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if seg.Type == models.SegmentStatic {
		if p, err = r.makeStatic(ctx, seg, p); err != nil {
			return nil, err
		}
	}

	count, err := r.contacts.Count(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to count segment contacts: %w", err)
	}
	seg.ContactCount = count
	seg.LastEvaluatedAt = &now
	if err := r.segments.Create(ctx, seg); err != nil {
		return nil, fmt.Errorf("failed to create segment: %w", err)
	}

	r.logger.Info("Segment created",
		zap.String("segment_id", seg.ID),
		zap.String("type", string(seg.Type)),
		zap.Int64("contact_count", count))
	return seg, nil
}

// Update replaces the definition of a segment and re-evaluates it. A write
// whose criteria does not compile leaves the stored segment untouched.
// Switching a dynamic segment to STATIC pins the matches of the submitted
// criteria. A static segment keeps its tag rule: its membership changes only
// through AddContacts and RemoveContacts, and it cannot become dynamic again.
func (r *Registry) Update(ctx context.Context, id string, in Input) (*models.Segment, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	seg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := criteria.CompileAudience(in.Criteria)
	if err != nil {
		return nil, err
	}

	switch {
	case seg.Type == models.SegmentStatic:
		if in.Type == models.SegmentDynamic {
			return nil, apperrors.Validation("static segment %s cannot be made dynamic", id)
		}
		if !in.Criteria.IsEmpty() && !isStaticCriteria(in.Criteria, seg) {
			return nil, apperrors.Validation("criteria of static segment %s cannot be replaced; add or remove contacts instead", id)
		}
		if p, err = criteria.CompileAudience(seg.Criteria); err != nil {
			return nil, err
		}
	case in.Type == models.SegmentStatic:
		seg.Criteria = in.Criteria
		if p, err = r.makeStatic(ctx, seg, p); err != nil {
			return nil, err
		}
	default:
		seg.Criteria = in.Criteria
	}

	count, err := r.contacts.Count(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to count segment contacts: %w", err)
	}

	now := r.now()
	seg.Name = strings.TrimSpace(in.Name)
	seg.Description = in.Description
	seg.ContactCount = count
	seg.LastEvaluatedAt = &now
	seg.UpdatedAt = now
	if err := r.segments.Update(ctx, seg); err != nil {
		return nil, fmt.Errorf("failed to update segment: %w", err)
	}
	return seg, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Segment, error) {
	seg, err := r.segments.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("segment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}
	return seg, nil
}

func (r *Registry) List(ctx context.Context) ([]*models.Segment, error) {
	return r.segments.List(ctx)
}

// Evaluate recomputes contactCount and lastEvaluatedAt.
func (r *Registry) Evaluate(ctx context.Context, id string) (*models.Segment, error) {
	seg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := criteria.CompileAudience(seg.Criteria)
	if err != nil {
		return nil, err
	}
	count, err := r.contacts.Count(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to count segment contacts: %w", err)
	}
	now := r.now()
	if err := r.segments.UpdateCount(ctx, id, count, now); err != nil {
		return nil, fmt.Errorf("failed to store segment count: %w", err)
	}
	seg.ContactCount = count
	seg.LastEvaluatedAt = &now

	r.logger.Debug("Segment evaluated", zap.String("segment_id", id), zap.Int64("contact_count", count))
	return seg, nil
}

// Preview counts and samples the contacts a criteria tree would target
// without persisting anything.
func (r *Registry) Preview(ctx context.Context, tree models.CriteriaTree, sampleSize int) (*Preview, error) {
	p, err := criteria.CompileAudience(tree)
	if err != nil {
		return nil, err
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	count, err := r.contacts.Count(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	sample, err := r.contacts.List(ctx, p, storage.ListOptions{Limit: int64(sampleSize)})
	if err != nil {
		return nil, fmt.Errorf("failed to sample contacts: %w", err)
	}
	return &Preview{ContactCount: count, Sample: sample}, nil
}

// Insights breaks the audience of a tree down by city, account type, age
// bracket and gender.
func (r *Registry) Insights(ctx context.Context, tree models.CriteriaTree) (*models.SegmentInsights, error) {
	p, err := criteria.CompileAudience(tree)
	if err != nil {
		return nil, err
	}
	return r.contacts.Insights(ctx, p)
}

// Resolve returns the compiled audience predicate of a segment for dispatch.
// A missing segment is a targeting failure.
func (r *Registry) Resolve(ctx context.Context, id string) (*criteria.Predicate, error) {
	seg, err := r.segments.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Targeting("segment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}
	return criteria.CompileAudience(seg.Criteria)
}

// ConvertToStatic pins the current matches of a dynamic segment with its
// synthetic tag and replaces the criteria with a single tag rule.
func (r *Registry) ConvertToStatic(ctx context.Context, id string) (*models.Segment, error) {
	seg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if seg.Type == models.SegmentStatic {
		return seg, nil
	}
	if err := r.pin(ctx, seg); err != nil {
		return nil, err
	}
	return r.Evaluate(ctx, id)
}

func (r *Registry) pin(ctx context.Context, seg *models.Segment) error {
	p, err := criteria.CompileAudience(seg.Criteria)
	if err != nil {
		return err
	}
	if _, err := r.makeStatic(ctx, seg, p); err != nil {
		return err
	}
	seg.UpdatedAt = r.now()
	if err := r.segments.Update(ctx, seg); err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	return nil
}

// makeStatic tags every contact that members currently matches (the whole
// audience for an empty tree), then swaps seg to the tag rule and returns
// its compiled predicate. seg is not persisted.
func (r *Registry) makeStatic(ctx context.Context, seg *models.Segment, members *criteria.Predicate) (*criteria.Predicate, error) {
	tagged, err := r.contacts.AddTag(ctx, members, seg.StaticTag())
	if err != nil {
		return nil, fmt.Errorf("failed to tag segment members: %w", err)
	}
	r.logger.Info("Pinned segment members",
		zap.String("segment_id", seg.ID),
		zap.Int64("tagged", tagged))

	seg.Type = models.SegmentStatic
	seg.Criteria = StaticCriteria(seg)
	return criteria.CompileAudience(seg.Criteria)
}

// StaticCriteria is the criteria of a static segment.
func StaticCriteria(seg *models.Segment) models.CriteriaTree {
	return models.CriteriaTree{
		Operator: "AND",
		Rules:    []models.CriteriaRule{{Field: "tags", Op: string(criteria.OpHas), Value: seg.StaticTag()}},
	}
}

func isStaticCriteria(tree models.CriteriaTree, seg *models.Segment) bool {
	if len(tree.Groups) > 0 || len(tree.Rules) != 1 {
		return false
	}
	rule := tree.Rules[0]
	return rule.Field == "tags" && rule.Op == string(criteria.OpHas) && fmt.Sprint(rule.Value) == seg.StaticTag()
}

// AddContacts pins contacts to a segment by phone. A dynamic segment is
// converted to static first so its current matches are kept.
func (r *Registry) AddContacts(ctx context.Context, id string, phones []string) (*models.Segment, error) {
	if len(phones) == 0 {
		return nil, apperrors.Validation("phones must not be empty")
	}
	seg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if seg.Type != models.SegmentStatic {
		if err := r.pin(ctx, seg); err != nil {
			return nil, err
		}
	}
	if _, err := r.contacts.AddTagByPhones(ctx, phones, seg.StaticTag()); err != nil {
		return nil, fmt.Errorf("failed to add segment contacts: %w", err)
	}
	return r.Evaluate(ctx, id)
}

// RemoveContacts unpins contacts from a static segment.
func (r *Registry) RemoveContacts(ctx context.Context, id string, phones []string) (*models.Segment, error) {
	if len(phones) == 0 {
		return nil, apperrors.Validation("phones must not be empty")
	}
	seg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if seg.Type != models.SegmentStatic {
		return nil, apperrors.Validation("contacts can only be removed from a static segment")
	}
	if _, err := r.contacts.RemoveTagByPhones(ctx, phones, seg.StaticTag()); err != nil {
		return nil, fmt.Errorf("failed to remove segment contacts: %w", err)
	}
	return r.Evaluate(ctx, id)
}

// Delete removes a segment no campaign references.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	refs, err := r.campaigns.CountBySegment(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count campaigns: %w", err)
	}
	if refs > 0 {
		return apperrors.Conflict("segment %s is used by %d campaign(s)", id, refs)
	}
	if err := r.segments.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	r.logger.Info("Segment deleted", zap.String("segment_id", id))
	return nil
}

func validateInput(in Input) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("segment name is required")
	}
	switch in.Type {
	case "", models.SegmentDynamic, models.SegmentStatic:
	default:
		return apperrors.Validation("unknown segment type %q", in.Type)
	}
	return nil
}

func segmentType(t models.SegmentType) models.SegmentType {
	if t == "" {
		return models.SegmentDynamic
	}
	return t
}
