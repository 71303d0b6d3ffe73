package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"broadcast-engine/internal/models"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// StatusSink receives parsed delivery callbacks: the reconciler itself, or
// the status queue when a worker pool is configured.
type StatusSink interface {
	Handle(ctx context.Context, ev reconcile.StatusEvent) error
}

type WebhookHandler struct {
	logger      *zap.Logger
	sink        StatusSink
	verifyToken string
	appSecret   string
}

func NewWebhookHandler(logger *zap.Logger, sink StatusSink, verifyToken, appSecret string) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger,
		sink:        sink,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// Verify answers the gateway's subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "subscribe" && h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		metrics.WebhookRequests.WithLabelValues("verified").Inc()
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	h.logger.Warn("Webhook verification failed", zap.String("mode", mode), zap.String("ip", c.ClientIP()))
	metrics.WebhookRequests.WithLabelValues("verification_failed").Inc()
	c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
}

// HandleWebhook accepts delivery callbacks. Once the signature checks out it
// always answers 200 so the gateway does not redeliver payloads that can
// never be applied.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		metrics.WebhookRequests.WithLabelValues("unreadable").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if h.appSecret != "" && !validSignature(h.appSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		h.logger.Warn("Invalid webhook signature", zap.String("ip", c.ClientIP()))
		metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	events, err := parseStatusEvents(body)
	if err != nil {
		h.logger.Warn("Failed to parse webhook payload",
			zap.Error(err),
			zap.String("body", string(body)))
		metrics.WebhookRequests.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	accepted := 0
	for _, ev := range events {
		if err := h.sink.Handle(c.Request.Context(), ev); err != nil {
			h.logger.Warn("Status callback not applied",
				zap.String("external_id", ev.ExternalID),
				zap.String("status", ev.Status),
				zap.Error(err))
			continue
		}
		accepted++
	}
	metrics.WebhookRequests.WithLabelValues("accepted").Inc()

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"received": len(events),
		"accepted": accepted,
	})
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Statuses []gatewayStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type gatewayStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code      int    `json:"code"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"errors"`
}

func (s gatewayStatus) event() reconcile.StatusEvent {
	ev := reconcile.StatusEvent{
		ExternalID: s.ID,
		Status:     s.Status,
		Recipient:  s.RecipientID,
	}
	if secs, err := strconv.ParseInt(s.Timestamp, 10, 64); err == nil {
		ev.Timestamp = time.Unix(secs, 0).UTC()
	}
	if len(s.Errors) > 0 {
		e := s.Errors[0]
		msg := e.Message
		if msg == "" {
			msg = e.Title
		}
		ev.Error = &models.ErrorDetail{
			Code:    strconv.Itoa(e.Code),
			Message: msg,
			Details: e.ErrorData.Details,
		}
	}
	return ev
}

// parseStatusEvents accepts the gateway's entry/changes envelope and a flat
// single-event shape. Envelopes without statuses yield no events.
func parseStatusEvents(body []byte) ([]reconcile.StatusEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if env.Object != "" || len(env.Entry) > 0 {
		events := []reconcile.StatusEvent{}
		for _, entry := range env.Entry {
			for _, change := range entry.Changes {
				for _, s := range change.Value.Statuses {
					events = append(events, s.event())
				}
			}
		}
		return events, nil
	}

	var flat reconcile.StatusEvent
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("invalid status event: %w", err)
	}
	if flat.ExternalID == "" && flat.Status == "" {
		return nil, fmt.Errorf("payload carries no status event")
	}
	return []reconcile.StatusEvent{flat}, nil
}
