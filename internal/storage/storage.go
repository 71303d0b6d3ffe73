package storage

import (
	"context"
	"errors"
	"time"

	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotEditable is returned when a campaign left the editable states before
// a write landed.
var ErrNotEditable = errors.New("campaign not editable")

// ListOptions bounds a contact listing. A zero Limit lists everything.
type ListOptions struct {
	Limit int64
	Skip  int64
}

type ContactStore interface {
	Count(ctx context.Context, p *criteria.Predicate) (int64, error)
	List(ctx context.Context, p *criteria.Predicate, opts ListOptions) ([]*models.Contact, error)
	GetByPhone(ctx context.Context, phone string) (*models.Contact, error)
	Upsert(ctx context.Context, c *models.Contact) error
	// AddTag tags every contact matching p and returns how many changed.
	AddTag(ctx context.Context, p *criteria.Predicate, tag string) (int64, error)
	AddTagByPhones(ctx context.Context, phones []string, tag string) (int64, error)
	RemoveTagByPhones(ctx context.Context, phones []string, tag string) (int64, error)
	Insights(ctx context.Context, p *criteria.Predicate) (*models.SegmentInsights, error)
}

type SegmentStore interface {
	Create(ctx context.Context, s *models.Segment) error
	Get(ctx context.Context, id string) (*models.Segment, error)
	List(ctx context.Context) ([]*models.Segment, error)
	Update(ctx context.Context, s *models.Segment) error
	UpdateCount(ctx context.Context, id string, count int64, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// TransitionFields are stamped on a campaign together with a status change.
type TransitionFields struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   string
	RunID       string
}

type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	Get(ctx context.Context, id string) (*models.Campaign, error)
	// Update and Delete apply only while the campaign is in one of
	// models.EditableStatuses and return ErrNotEditable otherwise.
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, id string) error
	// Transition moves the campaign to `to` only if its current status is one
	// of `from`. It reports whether the move happened.
	Transition(ctx context.Context, id string, from []models.CampaignStatus, to models.CampaignStatus, fields TransitionFields) (bool, error)
	IncrementStats(ctx context.Context, id string, inc map[string]int64) error
	SetMediaHandle(ctx context.Context, id, handle string) error
	ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	CountBySegment(ctx context.Context, segmentID string) (int64, error)
}

type TemplateStore interface {
	Get(ctx context.Context, id string) (*models.Template, error)
	Save(ctx context.Context, t *models.Template) error
}

// MessageKey selects a message either by id or by gateway external id.
type MessageKey struct {
	ID         string
	ExternalID string
}

type MessageStore interface {
	InsertMany(ctx context.Context, msgs []*models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	GetByTrackingToken(ctx context.Context, token string) (*models.Message, error)
	ListByIDs(ctx context.Context, ids []string) ([]*models.Message, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.Message, error)
	ListUnsettled(ctx context.Context, campaignID string) ([]*models.Message, error)
	ContactIDs(ctx context.Context, campaignID string) (map[string]bool, error)
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)
	CountUnsettled(ctx context.Context, campaignID string) (int64, error)
	DeleteByCampaign(ctx context.Context, campaignID string) (int64, error)
	// MarkQueued moves PENDING messages to QUEUED once handed to the worker pool.
	MarkQueued(ctx context.Context, ids []string) error
	// Claim takes the send lease on an unsettled message for runID. It reports
	// false while another sender holds a lease younger than lease, or once the
	// message has settled.
	Claim(ctx context.Context, id, runID string, at time.Time, lease time.Duration) (bool, error)
	// Transition applies change if models.CanTransition allows it from the
	// current status, atomically. It returns the message as it was before the
	// change and whether the change was applied; ErrNotFound if no message
	// matches key.
	Transition(ctx context.Context, key MessageKey, change models.StatusChange) (*models.Message, bool, error)
	// RecordClick appends a click for button index unless that button was
	// already clicked, and stamps the first click on the message once.
	RecordClick(ctx context.Context, token string, index int, at time.Time) (ClickResult, error)
}

// ClickResult reports what a click changed.
type ClickResult struct {
	Message         *models.Message
	FirstForButton  bool
	FirstForMessage bool
}

// Stores bundles every store the engine needs.
type Stores struct {
	Contacts  ContactStore
	Segments  SegmentStore
	Campaigns CampaignStore
	Templates TemplateStore
	Messages  MessageStore
}
