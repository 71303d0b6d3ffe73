package models

import (
	"time"
)

// CampaignStatus is the campaign state machine:
// DRAFT -> SCHEDULED -> RUNNING -> {COMPLETED, PAUSED, FAILED}.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// Launchable lists the states a campaign may be launched from.
var Launchable = []CampaignStatus{CampaignDraft, CampaignScheduled, CampaignPaused}

// EditableStatuses lists the states Editable accepts.
var EditableStatuses = []CampaignStatus{CampaignDraft, CampaignScheduled, CampaignPaused}

// Editable reports whether a campaign in this state may be edited or deleted.
func (s CampaignStatus) Editable() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignPaused:
		return true
	}
	return false
}

// CampaignType is informational only.
type CampaignType string

const (
	CampaignTypeBroadcast     CampaignType = "BROADCAST"
	CampaignTypePromotional   CampaignType = "PROMOTIONAL"
	CampaignTypeTransactional CampaignType = "TRANSACTIONAL"
)

// Campaign is a broadcast job.
type Campaign struct {
	ID         string         `json:"id" bson:"_id"`
	Name       string         `json:"name" bson:"name" validate:"required,max=200"`
	Type       CampaignType   `json:"type" bson:"type" validate:"omitempty,oneof=BROADCAST PROMOTIONAL TRANSACTIONAL"`
	Status     CampaignStatus `json:"status" bson:"status"`
	TemplateID string         `json:"templateId" bson:"templateId" validate:"required"`

	// Targeting, resolved in this priority order.
	SegmentID       string          `json:"segmentId,omitempty" bson:"segmentId,omitempty"`
	Criteria        *CriteriaTree   `json:"criteria,omitempty" bson:"criteria,omitempty"`
	ContactCategory ContactCategory `json:"contactCategory,omitempty" bson:"contactCategory,omitempty"`

	Variables   map[string]string `json:"variables,omitempty" bson:"variables,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty" bson:"scheduledAt,omitempty"`

	// MediaHandle is the gateway handle of the uploaded header asset, shared by
	// every recipient of the campaign.
	MediaHandle string `json:"mediaHandle,omitempty" bson:"mediaHandle,omitempty"`

	Stats CampaignStats `json:"stats" bson:"stats"`

	// RunID identifies the current dispatch run; batches of an older run
	// are skipped.
	RunID       string     `json:"runId,omitempty" bson:"runId,omitempty"`
	LastError   string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// CampaignStats holds the aggregate counters. They are only ever incremented.
type CampaignStats struct {
	Total     int64 `json:"total" bson:"total"`
	Sent      int64 `json:"sent" bson:"sent"`
	Delivered int64 `json:"delivered" bson:"delivered"`
	Read      int64 `json:"read" bson:"read"`
	Clicked   int64 `json:"clicked" bson:"clicked"`
	Failed    int64 `json:"failed" bson:"failed"`
}

// Counter names as stored under stats.
const (
	CounterTotal     = "total"
	CounterSent      = "sent"
	CounterDelivered = "delivered"
	CounterRead      = "read"
	CounterClicked   = "clicked"
	CounterFailed    = "failed"
)

// Add applies counter increments in place.
func (s *CampaignStats) Add(inc map[string]int64) {
	for name, n := range inc {
		switch name {
		case CounterTotal:
			s.Total += n
		case CounterSent:
			s.Sent += n
		case CounterDelivered:
			s.Delivered += n
		case CounterRead:
			s.Read += n
		case CounterClicked:
			s.Clicked += n
		case CounterFailed:
			s.Failed += n
		}
	}
}
