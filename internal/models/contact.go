package models

import (
	"time"
)

// ContactCategory is the marketing category a contact was filed under.
type ContactCategory string

const (
	CategoryActive   ContactCategory = "ACTIVE"
	CategoryInactive ContactCategory = "INACTIVE"
	CategoryNew      ContactCategory = "NEW"
	CategoryVIP      ContactCategory = "VIP"
	CategoryProspect ContactCategory = "PROSPECT"
)

// ContactStatus is the lifecycle status of a contact.
type ContactStatus string

const (
	ContactActive       ContactStatus = "ACTIVE"
	ContactUnsubscribed ContactStatus = "UNSUBSCRIBED"
	ContactBlocked      ContactStatus = "BLOCKED"
)

// Contact is a broadcast recipient. Phone is the immutable key.
type Contact struct {
	ID              string          `json:"id" bson:"_id"`
	Phone           string          `json:"phone" bson:"phone"`
	Email           string          `json:"email,omitempty" bson:"email,omitempty"`
	Name            string          `json:"name,omitempty" bson:"name,omitempty"`
	Category        ContactCategory `json:"category,omitempty" bson:"category,omitempty"`
	Tags            []string        `json:"tags,omitempty" bson:"tags,omitempty"`
	City            string          `json:"city,omitempty" bson:"city,omitempty"`
	Region          string          `json:"region,omitempty" bson:"region,omitempty"`
	Country         string          `json:"country,omitempty" bson:"country,omitempty"`
	Gender          string          `json:"gender,omitempty" bson:"gender,omitempty"`
	Age             int             `json:"age,omitempty" bson:"age,omitempty"`
	AccountType     string          `json:"accountType,omitempty" bson:"accountType,omitempty"`
	Language        string          `json:"language,omitempty" bson:"language,omitempty"`
	EngagementScore int             `json:"engagementScore" bson:"engagementScore"`
	OptIn           bool            `json:"optIn" bson:"optIn"`
	OptInAt         *time.Time      `json:"optInAt,omitempty" bson:"optInAt,omitempty"`
	Status          ContactStatus   `json:"status" bson:"status"`
	LastMessageAt   *time.Time      `json:"lastMessageAt,omitempty" bson:"lastMessageAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// HasTag reports whether the contact carries tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
