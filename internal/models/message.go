package models

import (
	"time"
)

// Message is one outbound send attempt, owned by one campaign and one contact.
type Message struct {
	ID            string        `json:"id" bson:"_id"`
	CampaignID    string        `json:"campaignId" bson:"campaignId"`
	ContactID     string        `json:"contactId" bson:"contactId"`
	Phone         string        `json:"phone" bson:"phone"`
	Content       string        `json:"content" bson:"content"`
	Params        []string      `json:"params,omitempty" bson:"params,omitempty"`
	Status        MessageStatus `json:"status" bson:"status"`
	ExternalID    string        `json:"externalId,omitempty" bson:"externalId,omitempty"`
	TrackingToken string        `json:"trackingToken" bson:"trackingToken"`
	Clicks        []ButtonClick `json:"clicks,omitempty" bson:"clicks,omitempty"`
	Error         *ErrorDetail  `json:"error,omitempty" bson:"error,omitempty"`

	// Send lease: the dispatch run that is handing the message to the gateway.
	ClaimRunID string     `json:"-" bson:"claimRunId,omitempty"`
	ClaimedAt  *time.Time `json:"-" bson:"claimedAt,omitempty"`

	SentAt         *time.Time `json:"sentAt,omitempty" bson:"sentAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty" bson:"failedAt,omitempty"`
	FirstClickedAt *time.Time `json:"firstClickedAt,omitempty" bson:"firstClickedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// ButtonClick records the first click on one call-to-action button.
type ButtonClick struct {
	Index     int       `json:"index" bson:"index"`
	ClickedAt time.Time `json:"clickedAt" bson:"clickedAt"`
}

// ErrorDetail is the structured failure reported by the gateway.
type ErrorDetail struct {
	Code    string `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
	Details string `json:"details,omitempty" bson:"details,omitempty"`
}

// Clicked reports whether button index was already clicked.
func (m *Message) Clicked(index int) bool {
	for _, c := range m.Clicks {
		if c.Index == index {
			return true
		}
	}
	return false
}

// StatusChange is a requested per-message status transition.
type StatusChange struct {
	Status     MessageStatus
	At         time.Time
	ExternalID string
	Error      *ErrorDetail
}

// TimestampField returns the message field stamped when entering status.
func TimestampField(s MessageStatus) string {
	switch s {
	case StatusSent:
		return "sentAt"
	case StatusDelivered:
		return "deliveredAt"
	case StatusRead:
		return "readAt"
	case StatusFailed:
		return "failedAt"
	}
	return ""
}
