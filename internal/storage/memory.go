package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process implementation of every store. It backs tests and
// the single-binary demo mode; all reads return copies.
type Memory struct {
	mu        sync.RWMutex
	contacts  map[string]*models.Contact
	segments  map[string]*models.Segment
	campaigns map[string]*models.Campaign
	templates map[string]*models.Template
	messages  map[string]*models.Message
	external  map[string]string // externalId -> message id
	tokens    map[string]string // trackingToken -> message id
}

func NewMemory() *Memory {
	return &Memory{
		contacts:  map[string]*models.Contact{},
		segments:  map[string]*models.Segment{},
		campaigns: map[string]*models.Campaign{},
		templates: map[string]*models.Template{},
		messages:  map[string]*models.Message{},
		external:  map[string]string{},
		tokens:    map[string]string{},
	}
}

// Stores returns the memory-backed stores.
func (m *Memory) Stores() Stores {
	return Stores{
		Contacts:  memContacts{m},
		Segments:  memSegments{m},
		Campaigns: memCampaigns{m},
		Templates: memTemplates{m},
		Messages:  memMessages{m},
	}
}

func cloneContact(c *models.Contact) *models.Contact {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	out := *c
	if c.Variables != nil {
		out.Variables = make(map[string]string, len(c.Variables))
		for k, v := range c.Variables {
			out.Variables[k] = v
		}
	}
	return &out
}

func cloneMessage(msg *models.Message) *models.Message {
	out := *msg
	out.Params = append([]string(nil), msg.Params...)
	out.Clicks = append([]models.ButtonClick(nil), msg.Clicks...)
	if msg.Error != nil {
		e := *msg.Error
		out.Error = &e
	}
	return &out
}

// contacts

type memContacts struct{ m *Memory }

func (s memContacts) matching(p *criteria.Predicate) []*models.Contact {
	var out []*models.Contact
	for _, c := range s.m.contacts {
		if p.Match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memContacts) Count(_ context.Context, p *criteria.Predicate) (int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return int64(len(s.matching(p))), nil
}

func (s memContacts) List(_ context.Context, p *criteria.Predicate, opts ListOptions) ([]*models.Contact, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	all := s.matching(p)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(all)) {
			return []*models.Contact{}, nil
		}
		all = all[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(all)) {
		all = all[:opts.Limit]
	}
	out := make([]*models.Contact, len(all))
	for i, c := range all {
		out[i] = cloneContact(c)
	}
	return out, nil
}

func (s memContacts) GetByPhone(_ context.Context, phone string) (*models.Contact, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, c := range s.m.contacts {
		if c.Phone == phone {
			return cloneContact(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s memContacts) Upsert(_ context.Context, c *models.Contact) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range s.m.contacts {
		if existing.Phone == c.Phone {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.m.contacts[c.ID] = cloneContact(c)
	return nil
}

func (s memContacts) tag(match func(*models.Contact) bool, tag string, add bool) int64 {
	var n int64
	for _, c := range s.m.contacts {
		if !match(c) || c.HasTag(tag) == add {
			continue
		}
		if add {
			c.Tags = append(c.Tags, tag)
		} else {
			kept := c.Tags[:0]
			for _, t := range c.Tags {
				if t != tag {
					kept = append(kept, t)
				}
			}
			c.Tags = kept
		}
		c.UpdatedAt = time.Now().UTC()
		n++
	}
	return n
}

func phoneSet(phones []string) func(*models.Contact) bool {
	set := make(map[string]bool, len(phones))
	for _, p := range phones {
		set[p] = true
	}
	return func(c *models.Contact) bool { return set[c.Phone] }
}

func (s memContacts) AddTag(_ context.Context, p *criteria.Predicate, tag string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.tag(p.Match, tag, true), nil
}

func (s memContacts) AddTagByPhones(_ context.Context, phones []string, tag string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.tag(phoneSet(phones), tag, true), nil
}

func (s memContacts) RemoveTagByPhones(_ context.Context, phones []string, tag string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.tag(phoneSet(phones), tag, false), nil
}

func (s memContacts) Insights(_ context.Context, p *criteria.Predicate) (*models.SegmentInsights, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	city, account, gender, age := tally{}, tally{}, tally{}, tally{}
	matched := s.matching(p)
	for _, c := range matched {
		city.add(c.City, 1)
		account.add(c.AccountType, 1)
		gender.add(c.Gender, 1)
		age.add(models.AgeBracketLabel(c.Age), 1)
	}
	return &models.SegmentInsights{
		Total:         int64(len(matched)),
		ByCity:        city.ranked(),
		ByAccountType: account.ranked(),
		ByGender:      gender.ranked(),
		ByAgeBracket:  age.bracketed(),
	}, nil
}

// segments

type memSegments struct{ m *Memory }

func (s memSegments) Create(_ context.Context, seg *models.Segment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.segments[seg.ID]; ok {
		return fmt.Errorf("segment %s already exists", seg.ID)
	}
	cp := *seg
	s.m.segments[seg.ID] = &cp
	return nil
}

func (s memSegments) Get(_ context.Context, id string) (*models.Segment, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	seg, ok := s.m.segments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s memSegments) List(_ context.Context) ([]*models.Segment, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]*models.Segment, 0, len(s.m.segments))
	for _, seg := range s.m.segments {
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s memSegments) Update(_ context.Context, seg *models.Segment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.segments[seg.ID]; !ok {
		return ErrNotFound
	}
	cp := *seg
	s.m.segments[seg.ID] = &cp
	return nil
}

func (s memSegments) UpdateCount(_ context.Context, id string, count int64, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	seg, ok := s.m.segments[id]
	if !ok {
		return ErrNotFound
	}
	seg.ContactCount = count
	seg.LastEvaluatedAt = &at
	return nil
}

func (s memSegments) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.segments[id]; !ok {
		return ErrNotFound
	}
	delete(s.m.segments, id)
	return nil
}

// campaigns

type memCampaigns struct{ m *Memory }

func (s memCampaigns) Create(_ context.Context, c *models.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	s.m.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s memCampaigns) Get(_ context.Context, id string) (*models.Campaign, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	c, ok := s.m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s memCampaigns) Update(_ context.Context, c *models.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.campaigns[c.ID]
	if !ok {
		return ErrNotFound
	}
	if !cur.Status.Editable() {
		return ErrNotEditable
	}
	next := cloneCampaign(c)
	next.Status = cur.Status
	next.Stats = cur.Stats
	next.MediaHandle = cur.MediaHandle
	next.StartedAt = cur.StartedAt
	next.CompletedAt = cur.CompletedAt
	next.LastError = cur.LastError
	next.RunID = cur.RunID
	next.CreatedAt = cur.CreatedAt
	s.m.campaigns[c.ID] = next
	return nil
}

func (s memCampaigns) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if !cur.Status.Editable() {
		return ErrNotEditable
	}
	delete(s.m.campaigns, id)
	return nil
}

func (s memCampaigns) Transition(_ context.Context, id string, from []models.CampaignStatus, to models.CampaignStatus, fields TransitionFields) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.campaigns[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if c.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	if fields.StartedAt != nil {
		c.StartedAt = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		c.CompletedAt = fields.CompletedAt
	}
	if fields.LastError != "" {
		c.LastError = fields.LastError
	}
	if fields.RunID != "" {
		c.RunID = fields.RunID
	}
	return true, nil
}

func (s memCampaigns) IncrementStats(_ context.Context, id string, inc map[string]int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c, ok := s.m.campaigns[id]; ok {
		c.Stats.Add(inc)
	}
	return nil
}

func (s memCampaigns) SetMediaHandle(_ context.Context, id, handle string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c, ok := s.m.campaigns[id]; ok {
		c.MediaHandle = handle
	}
	return nil
}

func (s memCampaigns) filter(keep func(*models.Campaign) bool) []*models.Campaign {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := []*models.Campaign{}
	for _, c := range s.m.campaigns {
		if keep(c) {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memCampaigns) ListDue(_ context.Context, now time.Time) ([]*models.Campaign, error) {
	return s.filter(func(c *models.Campaign) bool {
		return c.Status == models.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	}), nil
}

func (s memCampaigns) ListByStatus(_ context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return s.filter(func(c *models.Campaign) bool { return c.Status == status }), nil
}

func (s memCampaigns) CountBySegment(_ context.Context, segmentID string) (int64, error) {
	return int64(len(s.filter(func(c *models.Campaign) bool { return c.SegmentID == segmentID }))), nil
}

// templates

type memTemplates struct{ m *Memory }

func (s memTemplates) Get(_ context.Context, id string) (*models.Template, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s memTemplates) Save(_ context.Context, t *models.Template) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *t
	s.m.templates[t.ID] = &cp
	return nil
}

// messages

type memMessages struct{ m *Memory }

func (s memMessages) InsertMany(_ context.Context, msgs []*models.Message) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	pairs := map[string]bool{}
	for _, existing := range s.m.messages {
		pairs[existing.CampaignID+"/"+existing.ContactID] = true
	}
	var dup int
	for _, msg := range msgs {
		key := msg.CampaignID + "/" + msg.ContactID
		if pairs[key] || s.m.messages[msg.ID] != nil {
			dup++
			continue
		}
		pairs[key] = true
		s.m.messages[msg.ID] = cloneMessage(msg)
		if msg.TrackingToken != "" {
			s.m.tokens[msg.TrackingToken] = msg.ID
		}
		if msg.ExternalID != "" {
			s.m.external[msg.ExternalID] = msg.ID
		}
	}
	if dup > 0 {
		return fmt.Errorf("%d duplicate messages skipped", dup)
	}
	return nil
}

func (s memMessages) Get(_ context.Context, id string) (*models.Message, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	msg, ok := s.m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s memMessages) GetByTrackingToken(ctx context.Context, token string) (*models.Message, error) {
	s.m.mu.RLock()
	id, ok := s.m.tokens[token]
	s.m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s memMessages) list(keep func(*models.Message) bool) []*models.Message {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := []*models.Message{}
	for _, msg := range s.m.messages {
		if keep(msg) {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s memMessages) ListByIDs(_ context.Context, ids []string) ([]*models.Message, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return s.list(func(msg *models.Message) bool { return set[msg.ID] }), nil
}

func (s memMessages) ListByCampaign(_ context.Context, campaignID string) ([]*models.Message, error) {
	return s.list(func(msg *models.Message) bool { return msg.CampaignID == campaignID }), nil
}

func (s memMessages) ListUnsettled(_ context.Context, campaignID string) ([]*models.Message, error) {
	return s.list(func(msg *models.Message) bool {
		return msg.CampaignID == campaignID && msg.Status.Unsettled()
	}), nil
}

func (s memMessages) ContactIDs(_ context.Context, campaignID string) (map[string]bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := map[string]bool{}
	for _, msg := range s.m.messages {
		if msg.CampaignID == campaignID {
			out[msg.ContactID] = true
		}
	}
	return out, nil
}

func (s memMessages) count(keep func(*models.Message) bool) int64 {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var n int64
	for _, msg := range s.m.messages {
		if keep(msg) {
			n++
		}
	}
	return n
}

func (s memMessages) CountByCampaign(_ context.Context, campaignID string) (int64, error) {
	return s.count(func(msg *models.Message) bool { return msg.CampaignID == campaignID }), nil
}

func (s memMessages) CountUnsettled(_ context.Context, campaignID string) (int64, error) {
	return s.count(func(msg *models.Message) bool {
		return msg.CampaignID == campaignID && msg.Status.Unsettled()
	}), nil
}

func (s memMessages) DeleteByCampaign(_ context.Context, campaignID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, msg := range s.m.messages {
		if msg.CampaignID != campaignID {
			continue
		}
		delete(s.m.tokens, msg.TrackingToken)
		if msg.ExternalID != "" {
			delete(s.m.external, msg.ExternalID)
		}
		delete(s.m.messages, id)
		n++
	}
	return n, nil
}

func (s memMessages) MarkQueued(_ context.Context, ids []string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if msg, ok := s.m.messages[id]; ok && msg.Status == models.StatusPending {
			msg.Status = models.StatusQueued
			msg.UpdatedAt = now
		}
	}
	return nil
}

func (s memMessages) Claim(_ context.Context, id, runID string, at time.Time, lease time.Duration) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msg, ok := s.m.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if !msg.Status.Unsettled() || (msg.ClaimedAt != nil && msg.ClaimedAt.After(at.Add(-lease))) {
		return false, nil
	}
	msg.ClaimRunID = runID
	msg.ClaimedAt = &at
	return true, nil
}

func (s memMessages) Transition(_ context.Context, key MessageKey, change models.StatusChange) (*models.Message, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	id := key.ID
	if id == "" && key.ExternalID != "" {
		id = s.m.external[key.ExternalID]
	}
	msg, ok := s.m.messages[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	prev := cloneMessage(msg)
	if !models.CanTransition(msg.Status, change.Status) {
		return prev, false, nil
	}

	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	msg.Status = change.Status
	msg.UpdatedAt = at
	switch change.Status {
	case models.StatusSent:
		msg.SentAt = &at
	case models.StatusDelivered:
		msg.DeliveredAt = &at
	case models.StatusRead:
		msg.ReadAt = &at
	case models.StatusFailed:
		msg.FailedAt = &at
	}
	if change.ExternalID != "" {
		msg.ExternalID = change.ExternalID
		s.m.external[change.ExternalID] = msg.ID
	}
	if change.Error != nil {
		e := *change.Error
		msg.Error = &e
	}
	return prev, true, nil
}

func (s memMessages) RecordClick(_ context.Context, token string, index int, at time.Time) (ClickResult, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	msg, ok := s.m.messages[s.m.tokens[token]]
	if !ok {
		return ClickResult{}, ErrNotFound
	}
	var result ClickResult
	if !msg.Clicked(index) {
		msg.Clicks = append(msg.Clicks, models.ButtonClick{Index: index, ClickedAt: at})
		result.FirstForButton = true
		if msg.FirstClickedAt == nil {
			msg.FirstClickedAt = &at
			result.FirstForMessage = true
		}
	}
	result.Message = cloneMessage(msg)
	return result, nil
}
