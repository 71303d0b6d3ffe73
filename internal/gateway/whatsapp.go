package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"broadcast-engine/pkg/metrics"

	"go.uber.org/zap"
)

// Config locates a WhatsApp Cloud API phone number.
type Config struct {
	BaseURL       string
	Version       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// WhatsApp is a Client for the WhatsApp Cloud API.
type WhatsApp struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Client = (*WhatsApp)(nil)

func NewWhatsApp(cfg Config, logger *zap.Logger) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Version == "" {
		cfg.Version = "v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &WhatsApp{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type templatePayload struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []Component `json:"components,omitempty"`
}

type language struct {
	Code string `json:"code"`
}

type textPayload struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Text             *textPayload     `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

func (w *WhatsApp) SendTemplate(ctx context.Context, to, templateName, languageCode string, components []Component) (string, error) {
	return w.send(ctx, "send_template", sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: &templatePayload{
			Name:       templateName,
			Language:   language{Code: languageCode},
			Components: components,
		},
	})
}

func (w *WhatsApp) SendText(ctx context.Context, to, body string) (string, error) {
	return w.send(ctx, "send_text", sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

func (w *WhatsApp) send(ctx context.Context, op string, payload sendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint("messages"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out sendResponse
	if err := w.do(op, req, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &Error{Code: "empty_response", Message: "gateway returned no message id"}
	}
	return out.Messages[0].ID, nil
}

func (w *WhatsApp) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="header"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint("media"), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		ID string `json:"id"`
	}
	if err := w.do("upload_media", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &Error{Code: "empty_response", Message: "gateway returned no media id"}
	}

	w.logger.Info("Uploaded header media", zap.String("media_id", out.ID), zap.Int("bytes", len(data)))
	return out.ID, nil
}

func (w *WhatsApp) endpoint(resource string) string {
	return fmt.Sprintf("%s/%s/%s/%s", w.cfg.BaseURL, w.cfg.Version, w.cfg.PhoneNumberID, resource)
}

func (w *WhatsApp) do(op string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.GatewayRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	resp, err := w.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &Error{Code: CodeTimeout, Message: "gateway request timed out", Details: err.Error()}
		}
		return &Error{Code: "transport", Message: "gateway request failed", Details: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) *Error {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Error.Message == "" {
		return &Error{Code: "http_" + strconv.Itoa(status), Message: http.StatusText(status), Details: string(raw)}
	}
	code := strconv.Itoa(er.Error.Code)
	if er.Error.Code == 0 {
		code = "http_" + strconv.Itoa(status)
	}
	return &Error{Code: code, Message: er.Error.Message, Details: er.Error.ErrorData.Details}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
