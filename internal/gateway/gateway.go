// Package gateway talks to the third-party messaging gateway.
package gateway

import (
	"context"
	"fmt"
	"strconv"

	"broadcast-engine/internal/models"
)

// Client is the outbound side of the messaging gateway.
type Client interface {
	// SendTemplate sends a pre-approved template and returns the gateway's
	// message id.
	SendTemplate(ctx context.Context, to, templateName, languageCode string, components []Component) (string, error)
	// UploadMedia uploads a header asset and returns a reusable handle.
	UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
}

// CodeTimeout is reported when the request deadline expires.
const CodeTimeout = "timeout"

// Error is a structured gateway failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway error %s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// Detail converts the error for storage on a message.
func (e *Error) Detail() *models.ErrorDetail {
	return &models.ErrorDetail{Code: e.Code, Message: e.Message, Details: e.Details}
}

// Component is one template component on the wire.
type Component struct {
	Type       string      `json:"type"`
	SubType    string      `json:"sub_type,omitempty"`
	Index      string      `json:"index,omitempty"`
	Parameters []Parameter `json:"parameters"`
}

type Parameter struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Video    *Media `json:"video,omitempty"`
	Document *Media `json:"document,omitempty"`
}

type Media struct {
	ID string `json:"id"`
}

// Components builds the template components for one recipient: the media or
// text header, the body parameters in template order and one dynamic URL
// suffix per URL button carrying the tracking token.
func Components(t *models.Template, params []string, headerText, mediaHandle, trackingToken string) []Component {
	var out []Component

	switch {
	case t.Header.Type.IsMedia() && mediaHandle != "":
		p := Parameter{Type: mediaParamType(t.Header.Type)}
		m := &Media{ID: mediaHandle}
		switch t.Header.Type {
		case models.HeaderImage:
			p.Image = m
		case models.HeaderVideo:
			p.Video = m
		case models.HeaderDocument:
			p.Document = m
		}
		out = append(out, Component{Type: "header", Parameters: []Parameter{p}})
	case t.Header.Type == models.HeaderText && headerText != "":
		out = append(out, Component{Type: "header", Parameters: []Parameter{{Type: "text", Text: headerText}}})
	}

	if len(params) > 0 {
		body := Component{Type: "body", Parameters: make([]Parameter, 0, len(params))}
		for _, v := range params {
			body.Parameters = append(body.Parameters, Parameter{Type: "text", Text: v})
		}
		out = append(out, body)
	}

	for i, b := range t.Buttons {
		if b.Type != models.ButtonURL || trackingToken == "" {
			continue
		}
		out = append(out, Component{
			Type:       "button",
			SubType:    "url",
			Index:      strconv.Itoa(i),
			Parameters: []Parameter{{Type: "text", Text: TrackingSuffix(trackingToken, i)}},
		})
	}
	return out
}

// TrackingSuffix is the dynamic part appended to a button URL; it resolves to
// the click redirect route.
func TrackingSuffix(token string, index int) string {
	return token + "/" + strconv.Itoa(index)
}

func mediaParamType(h models.HeaderType) string {
	switch h {
	case models.HeaderVideo:
		return "video"
	case models.HeaderDocument:
		return "document"
	}
	return "image"
}
