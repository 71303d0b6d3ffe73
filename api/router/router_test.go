package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"broadcast-engine/api/handlers"
	"broadcast-engine/config"
	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/gateway"
	"broadcast-engine/internal/lock"
	"broadcast-engine/internal/models"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/internal/segment"
	"broadcast-engine/internal/storage"
	"broadcast-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const apiKey = "test-key"

type harness struct {
	t          *testing.T
	engine     *gin.Engine
	stores     storage.Stores
	dispatcher *campaign.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	ctx := context.Background()

	stores := storage.NewMemory().Stores()
	for i, city := range []string{"Libreville", "Libreville", "Oyem"} {
		require.NoError(t, stores.Contacts.Upsert(ctx, &models.Contact{
			Phone:           fmt.Sprintf("+24100%d", i),
			City:            city,
			EngagementScore: 60,
			Status:          models.ContactActive,
			OptIn:           true,
		}))
	}
	require.NoError(t, stores.Templates.Save(ctx, &models.Template{
		ID:       "welcome",
		Name:     "welcome",
		Language: "fr",
		Body:     "Bienvenue",
		Buttons:  []models.TemplateButton{{Type: models.ButtonURL, Text: "Voir", TargetURL: "https://shop.example/promo"}},
	}))

	registry := segment.NewRegistry(stores, log)
	ledger := reconcile.NewLedger(stores, log)
	watcher := reconcile.NewWatcher(stores, log)
	dispatcher := campaign.NewDispatcher(campaign.Deps{
		Stores:   stores,
		Segments: registry,
		Gateway:  gateway.NewLogClient(log),
		Ledger:   ledger,
		Watcher:  watcher,
		Locker:   lock.NewMemory(),
	}, campaign.Options{BatchSize: 10, RatePerSecond: 1000}, log)

	cfg := &config.Config{}
	cfg.Security.APIKeyHeader = "X-API-Key"
	cfg.Security.APIKeys = map[string]string{"dashboard": apiKey}
	cfg.Security.RateLimit = 1000
	cfg.Security.RateBurst = 1000
	cfg.Monitoring.MetricsPath = "/metrics"

	engine := Setup(logger.Nop(), Handlers{
		Campaigns: handlers.NewCampaignHandler(campaign.NewService(stores, log), dispatcher, stores.Messages, log),
		Segments:  handlers.NewSegmentHandler(registry, log),
		Webhook:   handlers.NewWebhookHandler(log, reconcile.NewReconciler(ledger, watcher, log), "verify", ""),
		Tracking:  handlers.NewTrackingHandler(reconcile.NewClickTracker(stores, "https://fallback.example", log)),
	}, cfg)

	return &harness{t: t, engine: engine, stores: stores, dispatcher: dispatcher}
}

func (h *harness) do(method, path string, body any, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func libreville() map[string]any {
	return map[string]any{
		"operator": "AND",
		"rules": []map[string]any{
			{"field": "city", "op": "eq", "value": "Libreville"},
			{"field": "engagementScore", "op": "gte", "value": 50},
		},
	}
}

func TestAPIRequiresKey(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/segments", nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSegmentPreviewRejectsUnknownKeys(t *testing.T) {
	h := newHarness(t)

	var preview segment.Preview
	code := h.do(http.MethodPost, "/api/segments/preview", map[string]any{"criteria": libreville()}, &preview)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), preview.ContactCount)

	code = h.do(http.MethodPost, "/api/segments/preview", map[string]any{
		"criteria": map[string]any{"rules": []map[string]any{{"field": "city", "op": "eq", "value": "Oyem", "extra": 1}}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = h.do(http.MethodPost, "/api/segments/preview", map[string]any{
		"criteria": map[string]any{"rules": []map[string]any{{"field": "passwordHash", "op": "eq", "value": "x"}}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCampaignLifecycle(t *testing.T) {
	h := newHarness(t)

	var seg models.Segment
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/segments", map[string]any{
		"name":     "Libreville engaged",
		"criteria": libreville(),
	}, &seg))
	assert.Equal(t, int64(2), seg.ContactCount)

	var created models.Campaign
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/campaigns", map[string]any{
		"name":       "Welcome",
		"templateId": "welcome",
		"segmentId":  seg.ID,
	}, &created))
	assert.Equal(t, models.CampaignDraft, created.Status)

	var launched campaign.LaunchResult
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/campaigns/"+created.ID+"/launch", nil, &launched))
	assert.Equal(t, 2, launched.TotalContacts)
	h.dispatcher.Wait()

	// a finished campaign cannot be launched again
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/campaigns/"+created.ID+"/launch", nil, nil))
	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/segments/"+seg.ID, nil, nil))

	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/campaigns/"+created.ID+"/messages", nil, &listed))
	require.Len(t, listed.Messages, 2)
	first := listed.Messages[0]
	require.NotEmpty(t, first.ExternalID)

	// delivery callbacks, including a stale one arriving last
	for _, status := range []string{"read", "delivered"} {
		code := h.do(http.MethodPost, "/webhook", map[string]any{"externalMessageId": first.ExternalID, "status": status}, nil)
		assert.Equal(t, http.StatusOK, code)
	}

	// two clicks on the same button count once
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/t/"+first.TrackingToken+"/0", nil)
		w := httptest.NewRecorder()
		h.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://shop.example/promo", w.Header().Get("Location"))
	}

	var got models.Campaign
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/campaigns/"+created.ID, nil, &got))
	assert.Equal(t, models.CampaignCompleted, got.Status)
	assert.Equal(t, int64(2), got.Stats.Total)
	assert.Equal(t, int64(2), got.Stats.Sent)
	assert.Equal(t, int64(1), got.Stats.Delivered)
	assert.Equal(t, int64(1), got.Stats.Read)
	assert.Equal(t, int64(1), got.Stats.Clicked)

	msg, err := h.stores.Messages.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestUnknownTrackingTokenFallsBack(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/t/nope", nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://fallback.example", w.Header().Get("Location"))
}

func TestCancelDraftIsConflict(t *testing.T) {
	h := newHarness(t)
	var created models.Campaign
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/campaigns", map[string]any{
		"name":       "Draft",
		"templateId": "welcome",
		"criteria":   libreville(),
	}, &created))

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/campaigns/"+created.ID+"/cancel", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/campaigns/missing", nil, nil))
}
