package campaign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/gateway"
	"broadcast-engine/internal/lock"
	"broadcast-engine/internal/media"
	"broadcast-engine/internal/models"
	"broadcast-engine/internal/reconcile"
	"broadcast-engine/internal/storage"
	"broadcast-engine/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Launch triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerRecovery  = "recovery"
)

// Options tune dispatch throughput. BatchSize x (1 / BatchDelay) and
// RatePerSecond must stay under the gateway's sustained rate.
type Options struct {
	BatchSize     int
	BatchDelay    time.Duration
	Concurrency   int
	RatePerSecond float64
	LockTTL       time.Duration
	// SendLease bounds how long a claimed message is reserved for one sender.
	SendLease time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.SendLease <= 0 {
		o.SendLease = 2 * time.Minute
	}
	return o
}

// SegmentResolver compiles a stored segment into an audience predicate.
type SegmentResolver interface {
	Resolve(ctx context.Context, segmentID string) (*criteria.Predicate, error)
}

// BatchJob is one unit of work for the durable worker pool.
type BatchJob struct {
	CampaignID string   `json:"campaignId"`
	RunID      string   `json:"runId"`
	MessageIDs []string `json:"messageIds"`
}

// BatchQueue hands batches to the durable worker pool.
type BatchQueue interface {
	PublishBatch(ctx context.Context, job BatchJob) error
}

// LaunchResult is returned as soon as message rows exist.
type LaunchResult struct {
	CampaignID    string `json:"campaignId"`
	TotalContacts int    `json:"totalContacts"`
	Queued        int    `json:"queued"`
	EstimatedTime string `json:"estimatedTime"`
}

// Dispatcher resolves a campaign's audience, materializes its messages and
// drives sending through the gateway.
type Dispatcher struct {
	campaigns storage.CampaignStore
	templates storage.TemplateStore
	contacts  storage.ContactStore
	messages  storage.MessageStore
	segments  SegmentResolver
	gateway   gateway.Client
	media     media.Resolver
	ledger    *reconcile.Ledger
	watcher   *reconcile.Watcher
	locker    lock.Locker
	queue     BatchQueue
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mediaMu sync.Mutex
	runsMu  sync.Mutex
	runs    map[string]chan struct{}
	wg      sync.WaitGroup
}

// Deps groups the collaborators of a Dispatcher. Queue is optional; without
// it batches run in-process.
type Deps struct {
	Stores   storage.Stores
	Segments SegmentResolver
	Gateway  gateway.Client
	Media    media.Resolver
	Ledger   *reconcile.Ledger
	Watcher  *reconcile.Watcher
	Locker   lock.Locker
	Queue    BatchQueue
}

func NewDispatcher(deps Deps, opts Options, logger *zap.Logger) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		campaigns: deps.Stores.Campaigns,
		templates: deps.Stores.Templates,
		contacts:  deps.Stores.Contacts,
		messages:  deps.Stores.Messages,
		segments:  deps.Segments,
		gateway:   deps.Gateway,
		media:     deps.Media,
		ledger:    deps.Ledger,
		watcher:   deps.Watcher,
		locker:    deps.Locker,
		queue:     deps.Queue,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency),
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		runs:      map[string]chan struct{}{},
	}
}

// Launch moves a DRAFT, SCHEDULED or PAUSED campaign to RUNNING, creates one
// message per newly targeted contact and starts dispatch in the background.
// Relaunching a PAUSED campaign resumes its unsent messages without
// duplicating rows.
func (d *Dispatcher) Launch(ctx context.Context, id, trigger string) (res *LaunchResult, err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			if appErr, ok := apperrors.As(err); ok {
				result = string(appErr.Kind)
			}
		}
		metrics.CampaignLaunches.WithLabelValues(trigger, result).Inc()
	}()

	release, err := d.locker.Acquire(ctx, "campaign:"+id, d.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, apperrors.ErrAlreadyRunning
	}
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := d.campaigns.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("campaign %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c.Status == models.CampaignRunning {
		return nil, apperrors.ErrAlreadyRunning
	}
	if !c.Status.Editable() {
		return nil, apperrors.Conflict("a %s campaign cannot be launched", c.Status)
	}

	tmpl, err := d.templates.Get(ctx, c.TemplateID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Validation("template %s not found", c.TemplateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	audience, err := d.target(ctx, c)
	if err != nil {
		return nil, err
	}
	contacts, err := d.contacts.List(ctx, audience, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(contacts) == 0 {
		return nil, apperrors.ErrNoRecipients
	}

	existing, err := d.messages.ContactIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing messages: %w", err)
	}
	resumed, err := d.messages.ListUnsettled(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load unsent messages: %w", err)
	}

	now := d.now()
	fresh := make([]*models.Message, 0, len(contacts))
	for _, ct := range contacts {
		if existing[ct.ID] {
			continue
		}
		content, params := Render(tmpl, c.Variables, ct)
		fresh = append(fresh, &models.Message{
			ID:            uuid.NewString(),
			CampaignID:    id,
			ContactID:     ct.ID,
			Phone:         ct.Phone,
			Content:       content,
			Params:        params,
			Status:        models.StatusPending,
			TrackingToken: uuid.NewString(),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(fresh)+len(resumed) == 0 {
		return nil, apperrors.ErrNoRecipients
	}

	// An earlier in-process run of a paused campaign must drain first.
	if err := d.awaitRun(ctx, id); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	fields := storage.TransitionFields{RunID: runID}
	if c.StartedAt == nil {
		fields.StartedAt = &now
	}
	prior := c.Status
	ok, err := d.campaigns.Transition(ctx, id, models.Launchable, models.CampaignRunning, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to start campaign: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrAlreadyRunning
	}

	if err := d.messages.InsertMany(ctx, fresh); err != nil {
		d.countInserted(ctx, id, fresh)
		if _, rerr := d.campaigns.Transition(ctx, id, []models.CampaignStatus{models.CampaignRunning}, prior, storage.TransitionFields{}); rerr != nil {
			d.logger.Error("Failed to revert campaign status", zap.String("campaign_id", id), zap.Error(rerr))
		}
		return nil, fmt.Errorf("failed to create messages: %w", err)
	}
	if err := d.campaigns.IncrementStats(ctx, id, map[string]int64{models.CounterTotal: int64(len(fresh))}); err != nil {
		d.logger.Error("Failed to increment total counter", zap.String("campaign_id", id), zap.Error(err))
	}

	ids := make([]string, 0, len(fresh)+len(resumed))
	for _, m := range resumed {
		ids = append(ids, m.ID)
	}
	for _, m := range fresh {
		ids = append(ids, m.ID)
	}

	d.logger.Info("Campaign launched",
		zap.String("campaign_id", id),
		zap.String("trigger", trigger),
		zap.Int("contacts", len(contacts)),
		zap.Int("new_messages", len(fresh)),
		zap.Int("resumed_messages", len(resumed)))

	d.start(id, runID, ids)

	return &LaunchResult{
		CampaignID:    id,
		TotalContacts: len(contacts),
		Queued:        len(ids),
		EstimatedTime: d.estimate(len(ids)).String(),
	}, nil
}

// countInserted adds the rows a failed bulk insert still wrote to the total
// counter. The next launch resumes them like any other unsent message.
func (d *Dispatcher) countInserted(ctx context.Context, campaignID string, fresh []*models.Message) {
	ids := make([]string, len(fresh))
	for i, m := range fresh {
		ids[i] = m.ID
	}
	written, err := d.messages.ListByIDs(ctx, ids)
	if err != nil {
		d.logger.Error("Failed to list partially inserted messages", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	if len(written) == 0 {
		return
	}
	if err := d.campaigns.IncrementStats(ctx, campaignID, map[string]int64{models.CounterTotal: int64(len(written))}); err != nil {
		d.logger.Error("Failed to increment total counter", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	d.logger.Warn("Message insert partly applied",
		zap.String("campaign_id", campaignID),
		zap.Int("written", len(written)),
		zap.Int("requested", len(fresh)))
}

// target resolves the campaign's audience: segment, then inline criteria,
// then legacy category.
func (d *Dispatcher) target(ctx context.Context, c *models.Campaign) (*criteria.Predicate, error) {
	switch {
	case c.SegmentID != "":
		return d.segments.Resolve(ctx, c.SegmentID)
	case c.Criteria != nil:
		return criteria.CompileAudience(*c.Criteria)
	case c.ContactCategory != "":
		return criteria.CompileAudience(models.CriteriaTree{
			Rules: []models.CriteriaRule{{Field: "category", Op: string(criteria.OpEq), Value: string(c.ContactCategory)}},
		})
	}
	return nil, apperrors.Validation("campaign %s has no targeting", c.ID)
}

func (d *Dispatcher) estimate(n int) time.Duration {
	batches := int(math.Ceil(float64(n) / float64(d.opts.BatchSize)))
	sending := time.Duration(float64(n) / d.opts.RatePerSecond * float64(time.Second))
	delays := time.Duration(max(batches-1, 0)) * d.opts.BatchDelay
	return (sending + delays).Round(time.Second)
}

// Cancel pauses a RUNNING campaign. Batches already in flight finish; no
// further batch starts.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (*models.Campaign, error) {
	ok, err := d.campaigns.Transition(ctx, id, []models.CampaignStatus{models.CampaignRunning}, models.CampaignPaused, storage.TransitionFields{})
	if err != nil {
		return nil, fmt.Errorf("failed to pause campaign: %w", err)
	}
	c, err := d.campaigns.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("campaign %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("only a RUNNING campaign can be cancelled, campaign is %s", c.Status)
	}
	d.logger.Info("Campaign paused", zap.String("campaign_id", id))
	return c, nil
}

// Recover restarts dispatch for RUNNING campaigns from their unsent message
// rows. Audiences are not re-resolved.
func (d *Dispatcher) Recover(ctx context.Context) error {
	running, err := d.campaigns.ListByStatus(ctx, models.CampaignRunning)
	if err != nil {
		return fmt.Errorf("failed to list running campaigns: %w", err)
	}
	for _, c := range running {
		pending, err := d.messages.ListUnsettled(ctx, c.ID)
		if err != nil {
			d.logger.Error("Failed to list unsent messages", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if len(pending) == 0 {
			if _, err := d.watcher.Check(ctx, c.ID); err != nil {
				d.logger.Error("Campaign completion check failed", zap.String("campaign_id", c.ID), zap.Error(err))
			}
			continue
		}
		ids := make([]string, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		d.logger.Info("Resuming campaign dispatch", zap.String("campaign_id", c.ID), zap.Int("messages", len(ids)))
		metrics.CampaignLaunches.WithLabelValues(TriggerRecovery, "success").Inc()
		d.start(c.ID, c.RunID, ids)
	}
	return nil
}

// Wait blocks until every in-process dispatch run has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) awaitRun(ctx context.Context, id string) error {
	d.runsMu.Lock()
	done, ok := d.runs[id]
	d.runsMu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) chunks(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += d.opts.BatchSize {
		end := min(start+d.opts.BatchSize, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// start hands batches to the worker pool when one is configured and runs
// them in-process otherwise. Batches the queue rejects run in-process.
func (d *Dispatcher) start(campaignID, runID string, ids []string) {
	batches := d.chunks(ids)
	if d.queue != nil {
		ctx := context.Background()
		for i, batch := range batches {
			if err := d.messages.MarkQueued(ctx, batch); err != nil {
				d.logger.Error("Failed to mark batch queued", zap.String("campaign_id", campaignID), zap.Error(err))
			}
			job := BatchJob{CampaignID: campaignID, RunID: runID, MessageIDs: batch}
			if err := d.queue.PublishBatch(ctx, job); err != nil {
				d.logger.Error("Failed to publish batch, dispatching in-process",
					zap.String("campaign_id", campaignID),
					zap.Int("batch", i),
					zap.Error(err))
				d.runInline(campaignID, runID, batches[i:])
				return
			}
		}
		return
	}
	d.runInline(campaignID, runID, batches)
}

func (d *Dispatcher) runInline(campaignID, runID string, batches [][]string) {
	done := make(chan struct{})
	d.runsMu.Lock()
	d.runs[campaignID] = done
	d.runsMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.runsMu.Lock()
			if d.runs[campaignID] == done {
				delete(d.runs, campaignID)
			}
			d.runsMu.Unlock()
			close(done)
		}()
		d.run(context.Background(), campaignID, runID, batches)
	}()
}

func (d *Dispatcher) run(ctx context.Context, campaignID, runID string, batches [][]string) {
	for i, batch := range batches {
		if i > 0 && d.opts.BatchDelay > 0 {
			select {
			case <-time.After(d.opts.BatchDelay):
			case <-ctx.Done():
				return
			}
		}
		if err := d.messages.MarkQueued(ctx, batch); err != nil {
			d.logger.Error("Failed to mark batch queued", zap.String("campaign_id", campaignID), zap.Error(err))
		}
		proceed, err := d.ProcessBatch(ctx, BatchJob{CampaignID: campaignID, RunID: runID, MessageIDs: batch})
		if err != nil {
			d.logger.Error("Batch failed", zap.String("campaign_id", campaignID), zap.Int("batch", i), zap.Error(err))
		}
		if !proceed {
			d.logger.Info("Dispatch stopped",
				zap.String("campaign_id", campaignID),
				zap.Int("remaining_batches", len(batches)-i-1))
			return
		}
	}
}

// ProcessBatch sends every unsent message of one batch. It reports whether
// the campaign is still running this dispatch run; a paused, failed or
// relaunched campaign stops here without sending. Each message is claimed
// before it is sent, so a batch of an older run still in flight and a batch of
// the relaunch never both send it. Per-recipient send failures are recorded
// on the message and never fail the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, job BatchJob) (bool, error) {
	start := time.Now()
	mode := "inline"
	if d.queue != nil {
		mode = "queue"
	}
	defer func() {
		metrics.DispatchBatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	c, err := d.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		return false, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c.Status != models.CampaignRunning || (job.RunID != "" && c.RunID != job.RunID) {
		return false, nil
	}
	tmpl, err := d.templates.Get(ctx, c.TemplateID)
	if err != nil {
		return false, fmt.Errorf("failed to load template: %w", err)
	}

	handle, err := d.mediaHandle(ctx, c, tmpl)
	if err != nil {
		d.fail(ctx, c, err)
		return false, err
	}
	header := RenderHeader(tmpl, c.Variables)

	msgs, err := d.messages.ListByIDs(ctx, job.MessageIDs)
	if err != nil {
		return true, fmt.Errorf("failed to load batch messages: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, msg := range msgs {
		if !msg.Status.Unsettled() {
			continue
		}
		msg := msg
		g.Go(func() error {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			claimed, err := d.messages.Claim(ctx, msg.ID, job.RunID, d.now(), d.opts.SendLease)
			if err != nil {
				d.logger.Error("Failed to claim message", zap.String("message_id", msg.ID), zap.Error(err))
				return nil
			}
			if !claimed {
				d.logger.Debug("Message claimed by another sender",
					zap.String("campaign_id", msg.CampaignID),
					zap.String("message_id", msg.ID))
				return nil
			}
			d.send(ctx, tmpl, header, handle, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	if _, err := d.watcher.Check(ctx, c.ID); err != nil {
		d.logger.Error("Campaign completion check failed", zap.String("campaign_id", c.ID), zap.Error(err))
	}
	return true, nil
}

func (d *Dispatcher) send(ctx context.Context, tmpl *models.Template, header, handle string, msg *models.Message) {
	components := gateway.Components(tmpl, msg.Params, header, handle, msg.TrackingToken)
	externalID, err := d.gateway.SendTemplate(ctx, msg.Phone, tmpl.Name, tmpl.Language, components)

	change := models.StatusChange{Status: models.StatusSent, At: d.now(), ExternalID: externalID}
	outcome := "sent"
	if err != nil {
		change = models.StatusChange{Status: models.StatusFailed, At: d.now(), Error: errorDetail(err)}
		outcome = "failed"
		d.logger.Warn("Send failed",
			zap.String("campaign_id", msg.CampaignID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
	metrics.MessagesSent.WithLabelValues(outcome).Inc()

	if _, _, err := d.ledger.Apply(ctx, storage.MessageKey{ID: msg.ID}, change); err != nil {
		d.logger.Error("Failed to record send outcome",
			zap.String("message_id", msg.ID),
			zap.String("status", string(change.Status)),
			zap.Error(err))
	}
}

func errorDetail(err error) *models.ErrorDetail {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Detail()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.ErrorDetail{Code: gateway.CodeTimeout, Message: err.Error()}
	}
	return &models.ErrorDetail{Code: "send_error", Message: err.Error()}
}

// mediaHandle uploads the template's header asset once per campaign and
// returns the stored handle afterwards.
func (d *Dispatcher) mediaHandle(ctx context.Context, c *models.Campaign, tmpl *models.Template) (string, error) {
	if !tmpl.Header.Type.IsMedia() {
		return "", nil
	}
	if c.MediaHandle != "" {
		return c.MediaHandle, nil
	}

	d.mediaMu.Lock()
	defer d.mediaMu.Unlock()

	fresh, err := d.campaigns.Get(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load campaign: %w", err)
	}
	if fresh.MediaHandle != "" {
		return fresh.MediaHandle, nil
	}
	if tmpl.Header.MediaRef == "" || d.media == nil {
		return "", fmt.Errorf("template %s has a %s header without a media reference", tmpl.ID, tmpl.Header.Type)
	}

	asset, err := d.media.Fetch(ctx, tmpl.Header.MediaRef)
	if err != nil {
		return "", fmt.Errorf("failed to fetch header media: %w", err)
	}
	mimeType := tmpl.Header.MimeType
	if mimeType == "" {
		mimeType = asset.MimeType
	}
	handle, err := d.gateway.UploadMedia(ctx, asset.Data, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload header media: %w", err)
	}
	if err := d.campaigns.SetMediaHandle(ctx, c.ID, handle); err != nil {
		return "", fmt.Errorf("failed to store media handle: %w", err)
	}
	c.MediaHandle = handle
	return handle, nil
}

// fail marks the campaign FAILED and its unsent messages with the cause.
func (d *Dispatcher) fail(ctx context.Context, c *models.Campaign, cause error) {
	d.logger.Error("Campaign failed", zap.String("campaign_id", c.ID), zap.Error(cause))

	ok, err := d.campaigns.Transition(ctx, c.ID, []models.CampaignStatus{models.CampaignRunning}, models.CampaignFailed,
		storage.TransitionFields{LastError: cause.Error()})
	if err != nil || !ok {
		return
	}
	pending, err := d.messages.ListUnsettled(ctx, c.ID)
	if err != nil {
		d.logger.Error("Failed to list unsent messages", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	detail := &models.ErrorDetail{Code: "media_unavailable", Message: cause.Error()}
	for _, m := range pending {
		if _, _, err := d.ledger.Apply(ctx, storage.MessageKey{ID: m.ID},
			models.StatusChange{Status: models.StatusFailed, At: d.now(), Error: detail}); err != nil {
			d.logger.Error("Failed to fail message", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
}
