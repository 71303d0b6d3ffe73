package reconcile

import (
	"context"
	"testing"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/models"
	"broadcast-engine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	stores     storage.Stores
	reconciler *Reconciler
	clicks     *ClickTracker
}

func newFixture(t *testing.T, statuses ...models.MessageStatus) *fixture {
	t.Helper()
	ctx := context.Background()
	stores := storage.NewMemory().Stores()
	logger := zap.NewNop()

	require.NoError(t, stores.Templates.Save(ctx, &models.Template{
		ID:   "tmpl",
		Name: "promo",
		Buttons: []models.TemplateButton{
			{Type: models.ButtonURL, Text: "Shop", TargetURL: "https://shop.example/sale"},
			{Type: models.ButtonURL, Text: "More"},
		},
	}))
	require.NoError(t, stores.Campaigns.Create(ctx, &models.Campaign{ID: "camp", TemplateID: "tmpl", Status: models.CampaignRunning}))

	var msgs []*models.Message
	for i, st := range statuses {
		id := "m" + string(rune('1'+i))
		msgs = append(msgs, &models.Message{
			ID:            id,
			CampaignID:    "camp",
			ContactID:     "c" + id,
			Status:        st,
			ExternalID:    "wamid." + id,
			TrackingToken: "tok-" + id,
		})
	}
	require.NoError(t, stores.Messages.InsertMany(ctx, msgs))

	ledger := NewLedger(stores, logger)
	watcher := NewWatcher(stores, logger)
	return &fixture{
		stores:     stores,
		reconciler: NewReconciler(ledger, watcher, logger),
		clicks:     NewClickTracker(stores, "https://fallback.example", logger),
	}
}

func (f *fixture) campaign(t *testing.T) *models.Campaign {
	c, err := f.stores.Campaigns.Get(context.Background(), "camp")
	require.NoError(t, err)
	return c
}

func (f *fixture) message(t *testing.T, id string) *models.Message {
	m, err := f.stores.Messages.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestOutOfOrderCallbacksNeverRegress(t *testing.T) {
	f := newFixture(t, models.StatusSent)
	ctx := context.Background()

	for _, st := range []string{"sent", "delivered", "sent"} {
		require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: st}))
	}

	assert.Equal(t, models.StatusDelivered, f.message(t, "m1").Status)
	assert.Equal(t, int64(1), f.campaign(t).Stats.Delivered)
	assert.Equal(t, int64(0), f.campaign(t).Stats.Sent, "sent was recorded by the dispatcher, not the callback")
}

func TestReadBeforeDeliveredCountsBoth(t *testing.T) {
	f := newFixture(t, models.StatusSent)
	ctx := context.Background()

	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "read"}))
	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "delivered"}))
	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "read"}))

	c := f.campaign(t)
	assert.Equal(t, int64(1), c.Stats.Delivered)
	assert.Equal(t, int64(1), c.Stats.Read)
	assert.Equal(t, models.StatusRead, f.message(t, "m1").Status)
}

func TestFailedCallbackCapturesError(t *testing.T) {
	f := newFixture(t, models.StatusSent)
	ctx := context.Background()

	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{
		ExternalID: "wamid.m1",
		Status:     "failed",
		Error:      &models.ErrorDetail{Code: "131026", Message: "Message undeliverable"},
	}))

	m := f.message(t, "m1")
	assert.Equal(t, models.StatusFailed, m.Status)
	require.NotNil(t, m.Error)
	assert.Equal(t, "131026", m.Error.Code)
	assert.NotNil(t, m.FailedAt)
	assert.Equal(t, int64(1), f.campaign(t).Stats.Failed)

	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "failed"}))
	assert.Equal(t, int64(1), f.campaign(t).Stats.Failed)
}

func TestUnknownAndMalformedCallbacks(t *testing.T) {
	f := newFixture(t, models.StatusSent)
	ctx := context.Background()

	err := f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.nope", Status: "read"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindReconciliation))

	err = f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "exploded"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindReconciliation))

	err = f.reconciler.Handle(ctx, StatusEvent{Status: "read"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindReconciliation))
}

func TestWatcherCompletesOnceSettled(t *testing.T) {
	f := newFixture(t, models.StatusQueued, models.StatusSent)
	ctx := context.Background()

	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m2", Status: "delivered"}))
	assert.Equal(t, models.CampaignRunning, f.campaign(t).Status)

	require.NoError(t, f.reconciler.Handle(ctx, StatusEvent{ExternalID: "wamid.m1", Status: "failed"}))
	c := f.campaign(t)
	assert.Equal(t, models.CampaignCompleted, c.Status)
	assert.NotNil(t, c.CompletedAt)
}

func TestClickCountsFirstClickOnly(t *testing.T) {
	f := newFixture(t, models.StatusRead)
	ctx := context.Background()

	assert.Equal(t, "https://shop.example/sale", f.clicks.Click(ctx, "tok-m1", 0))
	assert.Equal(t, "https://shop.example/sale", f.clicks.Click(ctx, "tok-m1", 0))
	assert.Equal(t, "https://fallback.example", f.clicks.Click(ctx, "tok-m1", 1), "button without target")

	m := f.message(t, "m1")
	assert.Len(t, m.Clicks, 2)
	assert.NotNil(t, m.FirstClickedAt)
	assert.Equal(t, int64(1), f.campaign(t).Stats.Clicked)
}

func TestClickUnknownTokenFallsBack(t *testing.T) {
	f := newFixture(t, models.StatusRead)
	assert.Equal(t, "https://fallback.example", f.clicks.Click(context.Background(), "missing", 0))
	assert.Equal(t, int64(0), f.campaign(t).Stats.Clicked)
}

func TestParseIndex(t *testing.T) {
	assert.Equal(t, 0, ParseIndex(""))
	assert.Equal(t, 2, ParseIndex("2"))
	assert.Equal(t, 0, ParseIndex("-1"))
	assert.Equal(t, 0, ParseIndex("x"))
}

func TestLedgerCountsSkippedSteps(t *testing.T) {
	f := newFixture(t, models.StatusQueued)
	ledger := NewLedger(f.stores, zap.NewNop())

	_, applied, err := ledger.Apply(context.Background(), storage.MessageKey{ID: "m1"},
		models.StatusChange{Status: models.StatusRead, At: time.Now()})
	require.NoError(t, err)
	assert.True(t, applied)

	c := f.campaign(t)
	assert.Equal(t, int64(1), c.Stats.Sent)
	assert.Equal(t, int64(1), c.Stats.Delivered)
	assert.Equal(t, int64(1), c.Stats.Read)
}
