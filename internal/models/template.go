package models

import (
	"time"
)

// HeaderType is the kind of template header.
type HeaderType string

const (
	HeaderNone     HeaderType = "NONE"
	HeaderText     HeaderType = "TEXT"
	HeaderImage    HeaderType = "IMAGE"
	HeaderVideo    HeaderType = "VIDEO"
	HeaderDocument HeaderType = "DOCUMENT"
)

// IsMedia reports whether the header carries an uploaded asset.
func (h HeaderType) IsMedia() bool {
	return h == HeaderImage || h == HeaderVideo || h == HeaderDocument
}

// ButtonType is the kind of template button.
type ButtonType string

const (
	ButtonURL        ButtonType = "URL"
	ButtonQuickReply ButtonType = "QUICK_REPLY"
)

// Template is an approved gateway message template.
type Template struct {
	ID        string           `json:"id" bson:"_id"`
	Name      string           `json:"name" bson:"name"`
	Language  string           `json:"language" bson:"language"`
	Body      string           `json:"body" bson:"body"`
	Variables []string         `json:"variables,omitempty" bson:"variables,omitempty"`
	Header    TemplateHeader   `json:"header" bson:"header"`
	Buttons   []TemplateButton `json:"buttons,omitempty" bson:"buttons,omitempty"`
	CreatedAt time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// TemplateHeader describes the optional header. MediaRef locates the asset
// (s3://bucket/key or http(s) URL) for media headers.
type TemplateHeader struct {
	Type     HeaderType `json:"type" bson:"type"`
	Text     string     `json:"text,omitempty" bson:"text,omitempty"`
	MediaRef string     `json:"mediaRef,omitempty" bson:"mediaRef,omitempty"`
	MimeType string     `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
}

// TemplateButton is a call-to-action. URL buttons get the tracking token as
// dynamic suffix; TargetURL is where the click redirect sends the user.
type TemplateButton struct {
	Type      ButtonType `json:"type" bson:"type"`
	Text      string     `json:"text" bson:"text"`
	TargetURL string     `json:"targetUrl,omitempty" bson:"targetUrl,omitempty"`
}
