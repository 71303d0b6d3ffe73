package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContacts(t *testing.T, s Stores) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []*models.Contact{
		{ID: "c1", Phone: "+911", City: "Mumbai", Age: 30, Gender: "F", AccountType: "premium", Status: models.ContactActive, OptIn: true},
		{ID: "c2", Phone: "+912", City: "Mumbai", Age: 17, Gender: "M", Status: models.ContactActive, OptIn: true},
		{ID: "c3", Phone: "+913", City: "Pune", Status: models.ContactActive, OptIn: true},
		{ID: "c4", Phone: "+914", City: "Pune", Age: 60, Status: models.ContactBlocked, OptIn: true},
	} {
		require.NoError(t, s.Contacts.Upsert(ctx, c))
	}
}

func newMessage(id, campaign, contact string) *models.Message {
	return &models.Message{
		ID:            id,
		CampaignID:    campaign,
		ContactID:     contact,
		Status:        models.StatusPending,
		TrackingToken: "tok-" + id,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestMemoryContactsCountAndList(t *testing.T) {
	s := NewMemory().Stores()
	seedContacts(t, s)
	ctx := context.Background()

	p, err := criteria.CompileAudience(models.CriteriaTree{
		Rules: []models.CriteriaRule{{Field: "city", Op: "eq", Value: "Pune"}},
	})
	require.NoError(t, err)

	n, err := s.Contacts.Count(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := criteria.Compile(models.CriteriaTree{})
	require.NoError(t, err)
	page, err := s.Contacts.List(ctx, all, ListOptions{Limit: 2, Skip: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c2", page[0].ID)
	assert.Equal(t, "c3", page[1].ID)
}

func TestMemoryUpsertKeepsIdentityByPhone(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()

	require.NoError(t, s.Contacts.Upsert(ctx, &models.Contact{Phone: "+1555", Name: "Ann"}))
	first, err := s.Contacts.GetByPhone(ctx, "+1555")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	require.NoError(t, s.Contacts.Upsert(ctx, &models.Contact{Phone: "+1555", Name: "Anne"}))
	second, err := s.Contacts.GetByPhone(ctx, "+1555")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Anne", second.Name)
}

func TestMemoryTagging(t *testing.T) {
	s := NewMemory().Stores()
	seedContacts(t, s)
	ctx := context.Background()

	n, err := s.Contacts.AddTagByPhones(ctx, []string{"+911", "+912"}, "vip")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Contacts.AddTagByPhones(ctx, []string{"+911"}, "vip")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "tag already present")

	n, err = s.Contacts.RemoveTagByPhones(ctx, []string{"+912"}, "vip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := s.Contacts.GetByPhone(ctx, "+911")
	require.NoError(t, err)
	assert.True(t, c.HasTag("vip"))
}

func TestMemoryInsights(t *testing.T) {
	s := NewMemory().Stores()
	seedContacts(t, s)

	p, err := criteria.CompileAudience(models.CriteriaTree{})
	require.NoError(t, err)
	in, err := s.Contacts.Insights(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, int64(3), in.Total)
	assert.Equal(t, []models.Bucket{{Key: "Mumbai", Count: 2}, {Key: "Pune", Count: 1}}, in.ByCity)
	assert.Equal(t, []models.Bucket{
		{Key: "<18", Count: 1},
		{Key: "25-34", Count: 1},
		{Key: models.UnknownBucket, Count: 1},
	}, in.ByAgeBracket)
	assert.Equal(t, []models.Bucket{{Key: models.UnknownBucket, Count: 2}, {Key: "premium", Count: 1}}, in.ByAccountType)
}

func TestMemoryMessageTransitionIsMonotonic(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Messages.InsertMany(ctx, []*models.Message{newMessage("m1", "camp", "c1")}))

	prev, applied, err := s.Messages.Transition(ctx, MessageKey{ID: "m1"}, models.StatusChange{Status: models.StatusSent, ExternalID: "wamid.1"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusPending, prev.Status)

	_, applied, err = s.Messages.Transition(ctx, MessageKey{ExternalID: "wamid.1"}, models.StatusChange{Status: models.StatusRead})
	require.NoError(t, err)
	assert.True(t, applied)

	prev, applied, err = s.Messages.Transition(ctx, MessageKey{ExternalID: "wamid.1"}, models.StatusChange{Status: models.StatusDelivered})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.StatusRead, prev.Status)

	msg, err := s.Messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)
	assert.NotNil(t, msg.SentAt)
	assert.NotNil(t, msg.ReadAt)
	assert.Nil(t, msg.DeliveredAt)

	_, _, err = s.Messages.Transition(ctx, MessageKey{ExternalID: "missing"}, models.StatusChange{Status: models.StatusRead})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentTransitionsApplyOnce(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Messages.InsertMany(ctx, []*models.Message{newMessage("m1", "camp", "c1")}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Messages.Transition(ctx, MessageKey{ID: "m1"}, models.StatusChange{Status: models.StatusDelivered})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
}

func TestMemoryInsertManyRejectsDuplicatePairs(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()

	require.NoError(t, s.Messages.InsertMany(ctx, []*models.Message{newMessage("m1", "camp", "c1")}))
	err := s.Messages.InsertMany(ctx, []*models.Message{newMessage("m2", "camp", "c1"), newMessage("m3", "camp", "c2")})
	assert.Error(t, err)

	n, err := s.Messages.CountByCampaign(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := s.Messages.ContactIDs(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c1": true, "c2": true}, ids)
}

func TestMemoryRecordClick(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Messages.InsertMany(ctx, []*models.Message{newMessage("m1", "camp", "c1")}))
	now := time.Now().UTC()

	res, err := s.Messages.RecordClick(ctx, "tok-m1", 0, now)
	require.NoError(t, err)
	assert.True(t, res.FirstForButton)
	assert.True(t, res.FirstForMessage)

	res, err = s.Messages.RecordClick(ctx, "tok-m1", 0, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, res.FirstForButton)

	res, err = s.Messages.RecordClick(ctx, "tok-m1", 1, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, res.FirstForButton)
	assert.False(t, res.FirstForMessage)
	assert.Len(t, res.Message.Clicks, 2)
	assert.Equal(t, now, *res.Message.FirstClickedAt)

	_, err = s.Messages.RecordClick(ctx, "nope", 0, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCampaignTransitionGuardsSourceState(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Campaigns.Create(ctx, &models.Campaign{ID: "camp", Status: models.CampaignDraft}))

	ok, err := s.Campaigns.Transition(ctx, "camp", models.Launchable, models.CampaignRunning, TransitionFields{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Campaigns.Transition(ctx, "camp", models.Launchable, models.CampaignRunning, TransitionFields{})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Campaigns.IncrementStats(ctx, "camp", map[string]int64{models.CounterSent: 2}))
	c, err := s.Campaigns.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignRunning, c.Status)
	assert.Equal(t, int64(2), c.Stats.Sent)
}

func TestMemoryClaimHoldsLease(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Messages.InsertMany(ctx, []*models.Message{newMessage("m1", "camp", "c1")}))
	now := time.Now().UTC()

	ok, err := s.Messages.Claim(ctx, "m1", "run-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Messages.Claim(ctx, "m1", "run-2", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease still held")

	ok, err = s.Messages.Claim(ctx, "m1", "run-2", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease expired")

	_, applied, err := s.Messages.Transition(ctx, MessageKey{ID: "m1"}, models.StatusChange{Status: models.StatusSent})
	require.NoError(t, err)
	require.True(t, applied)
	ok, err = s.Messages.Claim(ctx, "m1", "run-3", now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "settled messages are never claimed")

	_, err = s.Messages.Claim(ctx, "missing", "run-1", now, time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCampaignWritesRequireEditableStatus(t *testing.T) {
	s := NewMemory().Stores()
	ctx := context.Background()
	require.NoError(t, s.Campaigns.Create(ctx, &models.Campaign{ID: "camp", Name: "Promo", Status: models.CampaignDraft}))
	require.NoError(t, s.Campaigns.Update(ctx, &models.Campaign{ID: "camp", Name: "Promo 2"}))

	ok, err := s.Campaigns.Transition(ctx, "camp", models.Launchable, models.CampaignRunning, TransitionFields{})
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, s.Campaigns.Update(ctx, &models.Campaign{ID: "camp", Name: "Promo 3"}), ErrNotEditable)
	assert.ErrorIs(t, s.Campaigns.Delete(ctx, "camp"), ErrNotEditable)
	assert.ErrorIs(t, s.Campaigns.Delete(ctx, "missing"), ErrNotFound)

	c, err := s.Campaigns.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, "Promo 2", c.Name)
}
