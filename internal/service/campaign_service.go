package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	enqueueBatchSize = 100
	copyNameSuffix   = " (Copy)"
)

// CreateCampaignRequest describes a new draft campaign.
type CreateCampaignRequest struct {
	MerchantID      string
	Name            string
	Description     string
	Channel         domain.Channel
	TemplateSubject string
	TemplateBody    string
	TargetAudience  map[string]any
	Audience        []map[string]any
	BudgetLimit     *float64
	DailyLimit      *int
	Settings        map[string]any
}

type LaunchOptions struct {
	ScheduledAt *time.Time
}

type DuplicateOptions struct {
	Name        string
	PendingOnly bool
}

type CampaignServiceDeps struct {
	Campaigns      repository.CampaignRepository
	Recipients     repository.CampaignRecipientRepository
	Notifications  repository.NotificationRepository
	Events         repository.EventRepository
	CampaignEvents repository.CampaignEventRepository
	Expander       *BulkExpander
	Publisher      queue.Publisher
}

// CampaignService runs the campaign state machine:
// draft -> scheduled|running -> paused -> running -> completed|cancelled.
type CampaignService struct {
	campaigns      repository.CampaignRepository
	recipients     repository.CampaignRecipientRepository
	notifications  repository.NotificationRepository
	eventRepo      repository.EventRepository
	campaignEvents repository.CampaignEventRepository
	expander       *BulkExpander
	publisher      queue.Publisher
	events         *eventLog
	logger         *zap.Logger
	metrics        *observability.Metrics
	retryDelay     time.Duration
	now            func() time.Time
}

func NewCampaignService(deps CampaignServiceDeps, logger *zap.Logger) (*CampaignService, error) {
	if deps.Campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if deps.Recipients == nil {
		return nil, fmt.Errorf("campaign recipient repository is required")
	}
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Expander == nil {
		return nil, fmt.Errorf("bulk expander is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &CampaignService{
		campaigns:      deps.Campaigns,
		recipients:     deps.Recipients,
		notifications:  deps.Notifications,
		eventRepo:      deps.Events,
		campaignEvents: deps.CampaignEvents,
		expander:       deps.Expander,
		publisher:      deps.Publisher,
		logger:         logger,
		retryDelay:     defaultPublishRetryDelay,
		now:            time.Now,
	}
	s.events = &eventLog{
		notifications: deps.Events,
		campaigns:     deps.CampaignEvents,
		logger:        logger,
		now:           func() time.Time { return s.now() },
	}
	return s, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *CampaignService) SetPublishRetryDelay(d time.Duration) {
	if d > 0 {
		s.retryDelay = d
	}
}

// Create stores a draft campaign. Audience records are kept raw until the
// campaign first runs.
func (s *CampaignService) Create(ctx context.Context, req CreateCampaignRequest) (*domain.Campaign, error) {
	c := &domain.Campaign{
		ID:                  uuid.NewString(),
		MerchantID:          strings.TrimSpace(req.MerchantID),
		Name:                strings.TrimSpace(req.Name),
		Description:         strings.TrimSpace(req.Description),
		Channel:             req.Channel,
		Status:              domain.CampaignStatusDraft,
		TemplateSubject:     req.TemplateSubject,
		TemplateBody:        req.TemplateBody,
		TargetAudience:      req.TargetAudience,
		AudienceData:        req.Audience,
		EstimatedRecipients: len(req.Audience),
		BudgetLimit:         req.BudgetLimit,
		DailyLimit:          req.DailyLimit,
		Settings:            req.Settings,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.events.campaign(ctx, c.ID, domain.CampaignEventCreated, map[string]any{
		"audience_records": len(req.Audience),
	})
	s.metrics.IncCampaignTransition(domain.CampaignStatusDraft.String())
	return c, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, params)
}

// Events returns the campaign audit log, oldest first.
func (s *CampaignService) Events(ctx context.Context, id string) ([]domain.CampaignEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.campaignEvents == nil {
		return nil, nil
	}
	return s.campaignEvents.ListByCampaign(ctx, id)
}

func (s *CampaignService) Recipients(ctx context.Context, id string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.recipients.ListByCampaign(ctx, id, status)
}

// ImportRecipients materialises records as recipients of a draft campaign.
func (s *CampaignService) ImportRecipients(ctx context.Context, id string, records []map[string]any) (ExpandResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return ExpandResult{}, err
	}
	if c.Status != domain.CampaignStatusDraft {
		return ExpandResult{}, domain.NewStateError("campaign", c.ID, "import recipients into", c.Status, domain.CampaignStatusDraft)
	}
	if len(records) == 0 {
		return ExpandResult{}, fmt.Errorf("%w: at least one recipient record is required", domain.ErrValidation)
	}

	result, err := s.expander.ExpandCampaign(ctx, c, records)
	if err != nil {
		return result, err
	}
	if err := s.refreshEstimate(ctx, c); err != nil {
		return result, err
	}
	s.metrics.AddRecipientsSkipped("campaign", result.Skipped)

	s.events.campaign(ctx, c.ID, domain.CampaignEventRecipientsImported, map[string]any{
		"total":      result.Total,
		"created":    result.Created,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
	})
	return result, nil
}

// Launch starts a draft campaign now, or schedules it when ScheduledAt is in
// the future.
func (s *CampaignService) Launch(ctx context.Context, id string, opts LaunchOptions) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignStatusDraft {
		return nil, domain.NewStateError("campaign", c.ID, "launch", c.Status, domain.CampaignStatusDraft)
	}

	now := s.now().UTC()
	if opts.ScheduledAt != nil && opts.ScheduledAt.After(now) {
		if err := domain.ValidateScheduledAt(*opts.ScheduledAt, now); err != nil {
			return nil, err
		}
		at := opts.ScheduledAt.UTC()
		if err := s.transition(ctx, c, "launch", []domain.CampaignStatus{domain.CampaignStatusDraft},
			domain.CampaignStatusScheduled, map[string]any{"scheduled_at": at}); err != nil {
			return nil, err
		}
		s.events.campaign(ctx, c.ID, domain.CampaignEventScheduled, map[string]any{
			"scheduled_at": at.Format(time.RFC3339),
		})
		return s.campaigns.GetByID(ctx, c.ID)
	}

	if err := s.transition(ctx, c, "launch", []domain.CampaignStatus{domain.CampaignStatusDraft},
		domain.CampaignStatusRunning, map[string]any{"started_at": now}); err != nil {
		return nil, err
	}
	if err := s.run(ctx, c.ID, true); err != nil {
		s.logger.Error("campaign dispatch interrupted, scheduler will resume it",
			zap.String("campaignId", c.ID),
			zap.Error(err),
		)
	}
	return s.campaigns.GetByID(ctx, c.ID)
}

// StartScheduled promotes a due scheduled campaign to running. It returns
// false when the campaign was no longer scheduled.
func (s *CampaignService) StartScheduled(ctx context.Context, id string) (bool, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	fields := map[string]any{}
	if c.StartedAt == nil {
		fields["started_at"] = s.now().UTC()
	}
	ok, err := s.campaigns.TransitionStatus(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignStatusScheduled}, domain.CampaignStatusRunning, fields)
	if err != nil || !ok {
		return false, err
	}
	s.metrics.IncCampaignTransition(domain.CampaignStatusRunning.String())

	return true, s.run(ctx, c.ID, true)
}

// Pause stops a running or scheduled campaign. Notifications that are still
// pending are cancelled and their recipients unlinked so a resume sends them
// again.
func (s *CampaignService) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, "pause",
		[]domain.CampaignStatus{domain.CampaignStatusRunning, domain.CampaignStatusScheduled},
		domain.CampaignStatusPaused, nil); err != nil {
		return nil, err
	}

	cancelled, err := s.cancelPending(ctx, c.ID, domain.ReasonCampaignPaused)
	if err != nil {
		return nil, err
	}
	unlinked, err := s.recipients.UnlinkNotifications(ctx, c.ID, cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to unlink cancelled notifications: %w", err)
	}

	s.events.campaign(ctx, c.ID, domain.CampaignEventPaused, map[string]any{
		"cancelled_notifications": len(cancelled),
		"unlinked_recipients":     unlinked,
	})
	return s.campaigns.GetByID(ctx, c.ID)
}

// Resume restarts a paused campaign and enqueues only recipients that have no
// notification yet.
func (s *CampaignService) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if c.StartedAt == nil {
		fields["started_at"] = s.now().UTC()
	}
	if err := s.transition(ctx, c, "resume", []domain.CampaignStatus{domain.CampaignStatusPaused},
		domain.CampaignStatusRunning, fields); err != nil {
		return nil, err
	}
	s.events.campaign(ctx, c.ID, domain.CampaignEventResumed, nil)

	if err := s.run(ctx, c.ID, false); err != nil {
		s.logger.Error("campaign dispatch interrupted, scheduler will resume it",
			zap.String("campaignId", c.ID),
			zap.Error(err),
		)
	}
	return s.campaigns.GetByID(ctx, c.ID)
}

// Cancel ends a campaign that has not finished. Pending notifications are
// cancelled; in-flight sends complete.
func (s *CampaignService) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, "cancel",
		[]domain.CampaignStatus{domain.CampaignStatusRunning, domain.CampaignStatusScheduled, domain.CampaignStatusPaused},
		domain.CampaignStatusCancelled, map[string]any{"completed_at": s.now().UTC()}); err != nil {
		return nil, err
	}

	cancelled, err := s.cancelPending(ctx, c.ID, domain.ReasonCampaignCancelled)
	if err != nil {
		return nil, err
	}
	s.events.campaign(ctx, c.ID, domain.CampaignEventCancelled, map[string]any{
		"cancelled_notifications": len(cancelled),
	})

	return s.ReconcileMetrics(ctx, c.ID)
}

// Duplicate copies a campaign into a new draft. Metrics and events are not
// copied; PendingOnly copies only recipients that were never reached.
func (s *CampaignService) Duplicate(ctx context.Context, id string, opts DuplicateOptions) (*domain.Campaign, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = src.Name + copyNameSuffix
	}
	dup := &domain.Campaign{
		ID:              uuid.NewString(),
		MerchantID:      src.MerchantID,
		Name:            name,
		Description:     src.Description,
		Channel:         src.Channel,
		Status:          domain.CampaignStatusDraft,
		TemplateSubject: src.TemplateSubject,
		TemplateBody:    src.TemplateBody,
		TargetAudience:  copyMap(src.TargetAudience),
		AudienceData:    src.AudienceData,
		BudgetLimit:     src.BudgetLimit,
		DailyLimit:      src.DailyLimit,
		Settings:        copyMap(src.Settings),
	}
	if err := dup.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, dup); err != nil {
		return nil, fmt.Errorf("failed to create campaign copy: %w", err)
	}

	var filter *domain.RecipientStatus
	if opts.PendingOnly {
		pending := domain.RecipientStatusPending
		filter = &pending
	}
	recipients, err := s.recipients.ListByCampaign(ctx, src.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients to copy: %w", err)
	}
	for start := 0; start < len(recipients); start += enqueueBatchSize {
		end := min(start+enqueueBatchSize, len(recipients))
		batch := make([]*domain.CampaignRecipient, 0, end-start)
		for _, r := range recipients[start:end] {
			batch = append(batch, &domain.CampaignRecipient{
				ID:         uuid.NewString(),
				CampaignID: dup.ID,
				Address:    r.Address,
				Data:       copyMap(r.Data),
				Status:     domain.RecipientStatusPending,
			})
		}
		if _, err := s.recipients.CreateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to copy recipients: %w", err)
		}
	}
	if err := s.refreshEstimate(ctx, dup); err != nil {
		return nil, err
	}

	s.events.campaign(ctx, dup.ID, domain.CampaignEventCreated, map[string]any{
		"source_campaign_id": src.ID,
	})
	s.events.campaign(ctx, src.ID, domain.CampaignEventDuplicated, map[string]any{
		"copy_campaign_id": dup.ID,
		"pending_only":     opts.PendingOnly,
		"recipients":       len(recipients),
	})
	s.metrics.IncCampaignTransition(domain.CampaignStatusDraft.String())
	return s.campaigns.GetByID(ctx, dup.ID)
}

// ProcessRunning advances a running campaign: it materialises leftover
// audience records, enqueues recipients without a notification and then
// reconciles metrics.
func (s *CampaignService) ProcessRunning(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CampaignStatusRunning {
		if err := s.run(ctx, c.ID, false); err != nil {
			return nil, err
		}
	}
	return s.ReconcileMetrics(ctx, c.ID)
}

// ReconcileMetrics syncs recipients from their notifications, recomputes the
// counters and completes a running campaign once every recipient is final and
// nothing is in flight. It is safe to call repeatedly.
func (s *CampaignService) ReconcileMetrics(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.recipients.SyncFromNotifications(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("failed to sync campaign recipients: %w", err)
	}
	stats, err := s.recipients.Stats(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute campaign stats: %w", err)
	}
	inFlight, err := s.notifications.CountInFlightByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count in-flight notifications: %w", err)
	}
	stats.InFlight = int(inFlight)

	if s.eventRepo != nil {
		opened, err := s.eventRepo.CountNotificationsWithEvent(ctx, c.ID, domain.EventOpened)
		if err != nil {
			return nil, fmt.Errorf("failed to count opened notifications: %w", err)
		}
		clicked, err := s.eventRepo.CountNotificationsWithEvent(ctx, c.ID, domain.EventClicked)
		if err != nil {
			return nil, fmt.Errorf("failed to count clicked notifications: %w", err)
		}
		stats.Opened = int(opened)
		stats.Clicked = int(clicked)
	}

	if err := s.campaigns.UpdateMetrics(ctx, c.ID, stats); err != nil {
		return nil, fmt.Errorf("failed to update campaign metrics: %w", err)
	}

	if c.Status == domain.CampaignStatusRunning && len(c.AudienceData) == 0 && stats.Complete() {
		ok, err := s.campaigns.TransitionStatus(ctx, c.ID,
			[]domain.CampaignStatus{domain.CampaignStatusRunning}, domain.CampaignStatusCompleted,
			map[string]any{"completed_at": s.now().UTC()})
		if err != nil {
			return nil, fmt.Errorf("failed to complete campaign: %w", err)
		}
		if ok {
			s.events.campaign(ctx, c.ID, domain.CampaignEventCompleted, map[string]any{
				"recipients": stats.Recipients,
				"sent":       stats.Sent,
				"failed":     stats.Failed,
			})
			s.metrics.IncCampaignTransition(domain.CampaignStatusCompleted.String())
			s.logger.Info("campaign completed",
				zap.String("campaignId", c.ID),
				zap.Int("sent", stats.Sent),
				zap.Int("failed", stats.Failed),
			)
		}
	}

	return s.campaigns.GetByID(ctx, c.ID)
}

// run expands pending audience records and enqueues unlinked recipients for
// a running campaign. announce records the launch events.
func (s *CampaignService) run(ctx context.Context, id string, announce bool) error {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusRunning {
		return nil
	}

	if announce {
		s.events.campaign(ctx, c.ID, domain.CampaignEventLaunchStarted, nil)
	}

	if len(c.AudienceData) > 0 {
		result, err := s.expander.ExpandCampaign(ctx, c, c.AudienceData)
		if err != nil {
			return err
		}
		c.AudienceData = nil
		if err := s.refreshEstimate(ctx, c); err != nil {
			return err
		}
		s.metrics.AddRecipientsSkipped("campaign", result.Skipped)
		s.events.campaign(ctx, c.ID, domain.CampaignEventRecipientsImported, map[string]any{
			"total":      result.Total,
			"created":    result.Created,
			"skipped":    result.Skipped,
			"duplicates": result.Duplicates,
		})
	}

	enqueued, failed, err := s.enqueuePending(ctx, c)
	if err != nil {
		return err
	}
	if announce {
		s.events.campaign(ctx, c.ID, domain.CampaignEventLaunchCompleted, map[string]any{
			"enqueued": enqueued,
			"failed":   failed,
		})
	}
	if enqueued > 0 || failed > 0 {
		s.logger.Info("campaign recipients enqueued",
			zap.String("campaignId", c.ID),
			zap.Int("enqueued", enqueued),
			zap.Int("failed", failed),
		)
	}
	return nil
}

// enqueuePending creates, links and publishes one notification per pending
// unlinked recipient until none remain or the campaign leaves running.
func (s *CampaignService) enqueuePending(ctx context.Context, c *domain.Campaign) (int, int, error) {
	var enqueued, failed int
	priority := campaignPriority(c)

	for {
		current, err := s.campaigns.GetByID(ctx, c.ID)
		if err != nil {
			return enqueued, failed, err
		}
		if current.Status != domain.CampaignStatusRunning {
			return enqueued, failed, nil
		}

		batch, err := s.recipients.ListPendingUnlinked(ctx, c.ID, enqueueBatchSize)
		if err != nil {
			return enqueued, failed, fmt.Errorf("failed to list pending recipients: %w", err)
		}
		if len(batch) == 0 {
			return enqueued, failed, nil
		}

		for i := range batch {
			ok, err := s.enqueueRecipient(ctx, c, &batch[i], priority)
			if errors.Is(err, domain.ErrInvalidState) {
				// Paused or cancelled mid-batch; the remaining recipients stay unlinked.
				return enqueued, failed, nil
			}
			if err != nil {
				return enqueued, failed, err
			}
			if ok {
				enqueued++
			} else {
				failed++
			}
		}
	}
}

// enqueueRecipient returns false when the recipient was marked failed.
func (s *CampaignService) enqueueRecipient(
	ctx context.Context,
	c *domain.Campaign,
	r *domain.CampaignRecipient,
	priority domain.Priority,
) (bool, error) {
	campaignID := c.ID
	recipientID := r.ID
	vars := copyMap(r.Data)
	if vars == nil {
		vars = map[string]any{}
	}
	if _, ok := vars["address"]; !ok {
		vars["address"] = r.Address
	}

	n := &domain.Notification{
		ID:                  uuid.NewString(),
		MerchantID:          c.MerchantID,
		CorrelationID:       uuid.NewString(),
		Channel:             c.Channel,
		Priority:            priority,
		Recipient:           r.Address,
		Subject:             domain.RenderTemplate(c.TemplateSubject, vars),
		Body:                domain.RenderTemplate(c.TemplateBody, vars),
		Metadata:            map[string]any{"campaign_id": c.ID},
		Status:              domain.StatusPending,
		CampaignID:          &campaignID,
		CampaignRecipientID: &recipientID,
		MaxRetries:          domain.DefaultMaxRetries,
	}

	if err := n.Validate(); err != nil {
		return false, s.failRecipient(ctx, c.ID, r.ID, err)
	}
	if err := s.recipients.AttachNotification(ctx, r.ID, n); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Linked or finished concurrently; nothing to do for this recipient.
			return true, nil
		}
		if errors.Is(err, domain.ErrInvalidState) {
			return false, err
		}
		return false, fmt.Errorf("failed to attach notification to recipient %s: %w", r.ID, err)
	}

	s.events.notification(ctx, n.ID, domain.EventCreated, map[string]any{
		"source":      "campaign",
		"campaign_id": c.ID,
	}, "")
	s.metrics.IncNotificationCreated(n.Channel.String(), "campaign", 1)

	if err := queue.PublishNotification(ctx, s.publisher, *n); err != nil {
		s.logger.Warn("failed to publish campaign notification, deferring to scheduler",
			zap.String("campaignId", c.ID),
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		if rearmErr := s.notifications.Rearm(ctx, n.ID, s.now().Add(s.retryDelay)); rearmErr != nil {
			s.logger.Error("failed to rearm campaign notification",
				zap.String("notificationId", n.ID),
				zap.Error(rearmErr),
			)
		}
	}
	return true, nil
}

func (s *CampaignService) failRecipient(ctx context.Context, campaignID, recipientID string, cause error) error {
	s.logger.Warn("campaign recipient failed before dispatch",
		zap.String("campaignId", campaignID),
		zap.String("recipientId", recipientID),
		zap.Error(cause),
	)
	if err := s.recipients.MarkFailed(ctx, recipientID, cause.Error()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to mark recipient failed: %w", err)
	}
	if err := s.campaigns.IncrementFailed(ctx, campaignID, 1); err != nil {
		return fmt.Errorf("failed to increment campaign failures: %w", err)
	}
	return nil
}

func (s *CampaignService) cancelPending(ctx context.Context, campaignID, reason string) ([]string, error) {
	ids, err := s.notifications.CancelPendingByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel campaign notifications: %w", err)
	}
	for _, id := range ids {
		s.events.notification(ctx, id, domain.EventCancelled, map[string]any{
			"reason":      reason,
			"campaign_id": campaignID,
		}, "")
	}
	return ids, nil
}

// refreshEstimate stores the number of unique recipients plus any raw records
// still waiting for expansion.
func (s *CampaignService) refreshEstimate(ctx context.Context, c *domain.Campaign) error {
	count, err := s.recipients.CountByCampaign(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to count campaign recipients: %w", err)
	}

	if len(c.AudienceData) > 0 {
		err = s.campaigns.SetAudience(ctx, c.ID, c.AudienceData, int(count)+len(c.AudienceData))
	} else {
		err = s.campaigns.SetEstimatedRecipients(ctx, c.ID, int(count))
	}
	if err != nil {
		return fmt.Errorf("failed to update recipient estimate: %w", err)
	}
	return nil
}

// transition applies a conditional status change and reports a StateError
// naming the current status when the campaign moved on.
func (s *CampaignService) transition(
	ctx context.Context,
	c *domain.Campaign,
	action string,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
	fields map[string]any,
) error {
	ok, err := s.campaigns.TransitionStatus(ctx, c.ID, from, to, fields)
	if err != nil {
		return fmt.Errorf("failed to %s campaign: %w", action, err)
	}
	if !ok {
		current := c.Status
		if latest, getErr := s.campaigns.GetByID(ctx, c.ID); getErr == nil {
			current = latest.Status
		}
		allowed := make([]fmt.Stringer, 0, len(from))
		for _, st := range from {
			allowed = append(allowed, st)
		}
		return domain.NewStateError("campaign", c.ID, action, current, allowed...)
	}

	s.metrics.IncCampaignTransition(to.String())
	s.logger.Info("campaign status changed",
		zap.String("campaignId", c.ID),
		zap.String("from", c.Status.String()),
		zap.String("to", to.String()),
	)
	return nil
}

func campaignPriority(c *domain.Campaign) domain.Priority {
	if raw, ok := c.Settings["priority"].(string); ok {
		if p, err := domain.ParsePriorityFromString(raw); err == nil {
			return p
		}
	}
	return domain.PriorityNormal
}
