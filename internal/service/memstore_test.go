package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/provider"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

// memStore is an in-memory stand-in for the Postgres repositories. It keeps
// the same conditional-transition semantics so multi-step flows can be tested.
type memStore struct {
	mu sync.Mutex

	now func() time.Time

	notifications map[string]*domain.Notification
	notifOrder    []string
	events        []domain.NotificationEvent

	campaigns      map[string]*domain.Campaign
	campaignOrder  []string
	recipients     map[string]*domain.CampaignRecipient
	recipientOrder []string
	campaignEvents []domain.CampaignEvent

	providers []domain.ProviderConfig
	bulks     map[string]*domain.BulkNotification
	bulkOrder []string
	merchants map[string]*domain.MerchantSettings

	// attachErr, when set, fails every AttachNotification call.
	attachErr error
	// createBatchErr, when set, runs before every notification CreateBatch.
	createBatchErr func() error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:           now,
		notifications: map[string]*domain.Notification{},
		campaigns:     map[string]*domain.Campaign{},
		recipients:    map[string]*domain.CampaignRecipient{},
		bulks:         map[string]*domain.BulkNotification{},
		merchants:     map[string]*domain.MerchantSettings{},
	}
}

func (s *memStore) notificationRepo() *memNotifications { return &memNotifications{s} }
func (s *memStore) eventRepo() *memEvents               { return &memEvents{s} }
func (s *memStore) campaignRepo() *memCampaigns         { return &memCampaigns{s} }
func (s *memStore) campaignEventRepo() *memCampaignEvents {
	return &memCampaignEvents{s}
}
func (s *memStore) recipientRepo() *memRecipients { return &memRecipients{s} }
func (s *memStore) providerRepo() *memProviders   { return &memProviders{s} }
func (s *memStore) bulkRepo() *memBulks           { return &memBulks{s} }
func (s *memStore) merchantRepo() *memMerchants   { return &memMerchants{s} }

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func fieldTime(fields map[string]any, key string) (*time.Time, bool) {
	v, ok := fields[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case time.Time:
		return timePtr(t), true
	case *time.Time:
		return t, true
	}
	return nil, true
}

// --- notifications ---

type memNotifications struct{ s *memStore }

var _ repository.NotificationRepository = (*memNotifications)(nil)

func (r *memNotifications) insertLocked(n *domain.Notification) bool {
	s := r.s
	for _, id := range s.notifOrder {
		existing := s.notifications[id]
		if n.IdempotencyKey != nil && existing.IdempotencyKey != nil &&
			existing.MerchantID == n.MerchantID && *existing.IdempotencyKey == *n.IdempotencyKey {
			return false
		}
		if n.BulkID != nil && existing.BulkID != nil && *existing.BulkID == *n.BulkID && existing.Recipient == n.Recipient {
			return false
		}
	}
	now := s.now().UTC()
	stored := *n
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.notifications[n.ID] = &stored
	s.notifOrder = append(s.notifOrder, n.ID)
	*n = stored
	return true
}

func (r *memNotifications) Create(ctx context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.insertLocked(n) {
		return gorm.ErrDuplicatedKey
	}
	return nil
}

func (r *memNotifications) CreateBatch(ctx context.Context, notifications []*domain.Notification) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createBatchErr != nil {
		if err := r.s.createBatchErr(); err != nil {
			return nil, err
		}
	}
	var inserted []string
	for _, n := range notifications {
		if r.insertLocked(n) {
			inserted = append(inserted, n.ID)
		}
	}
	return inserted, nil
}

func (r *memNotifications) get(id string) (*domain.Notification, error) {
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *memNotifications) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r *memNotifications) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range r.s.notifOrder {
		n := r.s.notifications[id]
		if n.MerchantID == merchantID && n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			cp := *n
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memNotifications) filter(match func(n *domain.Notification) bool) []domain.Notification {
	out := make([]domain.Notification, 0)
	for _, id := range r.s.notifOrder {
		n := r.s.notifications[id]
		if match(n) {
			out = append(out, *n)
		}
	}
	return out
}

func (r *memNotifications) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool {
		if params.MerchantID != "" && n.MerchantID != params.MerchantID {
			return false
		}
		if params.Status != nil && n.Status != *params.Status {
			return false
		}
		if params.Channel != nil && n.Channel != *params.Channel {
			return false
		}
		if params.CampaignID != nil && (n.CampaignID == nil || *n.CampaignID != *params.CampaignID) {
			return false
		}
		if params.BulkID != nil && (n.BulkID == nil || *n.BulkID != *params.BulkID) {
			return false
		}
		return true
	})
	return out, int64(len(out)), nil
}

// transition mirrors the conditional UPDATE used by the Postgres repository.
func (r *memNotifications) transition(id string, from domain.Status, apply func(n *domain.Notification)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status != from {
		return domain.ErrConflict
	}
	apply(n)
	n.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r *memNotifications) ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if n.Status != domain.StatusPending {
		return nil, nil
	}
	n.Status = domain.StatusProcessing
	n.ProcessingStartedAt = timePtr(now)
	n.AvailableAt = nil
	n.UpdatedAt = r.s.now().UTC()
	cp := *n
	return &cp, nil
}

func (r *memNotifications) MarkSent(ctx context.Context, id string, result repository.SentResult) error {
	return r.transition(id, domain.StatusProcessing, func(n *domain.Notification) {
		name, msgID := result.ProviderName, result.ProviderMessageID
		n.Status = domain.StatusSent
		n.ProviderName = &name
		n.ProviderMessageID = &msgID
		n.ProviderResponse = result.ProviderResponse
		n.SentAt = timePtr(result.SentAt)
		n.ErrorMessage = nil
		n.Retryable = false
	})
}

func (r *memNotifications) MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error {
	return r.transition(id, domain.StatusProcessing, func(n *domain.Notification) {
		n.Status = domain.StatusFailed
		n.ErrorMessage = &errMsg
		n.Retryable = retryable
	})
}

func (r *memNotifications) ScheduleRetry(ctx context.Context, id string, availableAt time.Time, errMsg string) error {
	return r.transition(id, domain.StatusProcessing, func(n *domain.Notification) {
		n.Status = domain.StatusPending
		n.RetryCount++
		n.AvailableAt = timePtr(availableAt)
		n.ErrorMessage = &errMsg
		n.Retryable = true
	})
}

func (r *memNotifications) Release(ctx context.Context, id string, availableAt time.Time) error {
	return r.transition(id, domain.StatusProcessing, func(n *domain.Notification) {
		n.Status = domain.StatusPending
		n.AvailableAt = timePtr(availableAt)
	})
}

func (r *memNotifications) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(id, domain.StatusSent, func(n *domain.Notification) {
		n.Status = domain.StatusDelivered
		n.DeliveredAt = timePtr(at)
	})
}

func (r *memNotifications) Cancel(ctx context.Context, id string) error {
	return r.transition(id, domain.StatusPending, func(n *domain.Notification) {
		n.Status = domain.StatusCancelled
		n.AvailableAt = nil
	})
}

func (r *memNotifications) cancelWhere(match func(n *domain.Notification) bool) []string {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]string, 0)
	for _, id := range r.s.notifOrder {
		n := r.s.notifications[id]
		if n.Status == domain.StatusPending && match(n) {
			n.Status = domain.StatusCancelled
			n.AvailableAt = nil
			n.UpdatedAt = r.s.now().UTC()
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *memNotifications) CancelPendingByCampaign(ctx context.Context, campaignID string) ([]string, error) {
	return r.cancelWhere(func(n *domain.Notification) bool {
		return n.CampaignID != nil && *n.CampaignID == campaignID
	}), nil
}

func (r *memNotifications) CancelPendingByBulk(ctx context.Context, bulkID string) ([]string, error) {
	return r.cancelWhere(func(n *domain.Notification) bool {
		return n.BulkID != nil && *n.BulkID == bulkID
	}), nil
}

func (r *memNotifications) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	due := make([]*domain.Notification, 0)
	for _, id := range r.s.notifOrder {
		n := r.s.notifications[id]
		if n.Status == domain.StatusPending && n.AvailableAt != nil && !n.AvailableAt.After(now) {
			due = append(due, n)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].AvailableAt.Before(*due[j].AvailableAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Notification, 0, len(due))
	for _, n := range due {
		n.AvailableAt = nil
		n.UpdatedAt = r.s.now().UTC()
		out = append(out, *n)
	}
	return out, nil
}

func (r *memNotifications) Rearm(ctx context.Context, id string, availableAt time.Time) error {
	return r.transition(id, domain.StatusPending, func(n *domain.Notification) {
		n.AvailableAt = timePtr(availableAt)
	})
}

func (r *memNotifications) GetStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool {
		return n.Status == domain.StatusProcessing && n.ProcessingStartedAt != nil && n.ProcessingStartedAt.Before(cutoff)
	})
	return limitNotifications(out, limit), nil
}

func (r *memNotifications) GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool {
		return n.Status == domain.StatusPending && n.AvailableAt == nil && n.UpdatedAt.Before(cutoff)
	})
	return limitNotifications(out, limit), nil
}

func (r *memNotifications) GetRetryableFailed(ctx context.Context, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool {
		return n.Status == domain.StatusFailed && n.Retryable && n.RetryCount < n.MaxRetries
	})
	return limitNotifications(out, limit), nil
}

func (r *memNotifications) RearmFailed(ctx context.Context, id string, availableAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok || n.Status != domain.StatusFailed || !n.Retryable || n.RetryCount >= n.MaxRetries {
		return domain.ErrConflict
	}
	n.Status = domain.StatusPending
	n.RetryCount++
	n.AvailableAt = timePtr(availableAt)
	n.ErrorMessage = nil
	n.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r *memNotifications) CountInFlightByCampaign(ctx context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool {
		return n.CampaignID != nil && *n.CampaignID == campaignID &&
			(n.Status == domain.StatusPending || n.Status == domain.StatusProcessing)
	})
	return int64(len(out)), nil
}

func (r *memNotifications) GetBulkStats(ctx context.Context, bulkID string) (domain.BulkStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stats domain.BulkStats
	for _, n := range r.filter(func(n *domain.Notification) bool { return n.BulkID != nil && *n.BulkID == bulkID }) {
		stats.Total++
		switch n.Status {
		case domain.StatusSent, domain.StatusDelivered:
			stats.Succeeded++
		case domain.StatusFailed, domain.StatusCancelled:
			stats.Failed++
		default:
			stats.Open++
		}
	}
	return stats, nil
}

func limitNotifications(in []domain.Notification, limit int) []domain.Notification {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// --- events ---

type memEvents struct{ s *memStore }

var _ repository.EventRepository = (*memEvents)(nil)

func (r *memEvents) Create(ctx context.Context, e *domain.NotificationEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, *e)
	return nil
}

func (r *memEvents) ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.NotificationEvent, 0)
	for _, e := range r.s.events {
		if e.NotificationID == notificationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEvents) CountNotificationsWithEvent(ctx context.Context, campaignID string, eventType domain.EventType) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]struct{}{}
	for _, e := range r.s.events {
		if e.EventType != eventType {
			continue
		}
		n, ok := r.s.notifications[e.NotificationID]
		if ok && n.CampaignID != nil && *n.CampaignID == campaignID {
			seen[e.NotificationID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// --- campaigns ---

type memCampaigns struct{ s *memStore }

var _ repository.CampaignRepository = (*memCampaigns)(nil)

func (r *memCampaigns) Create(ctx context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now().UTC()
	stored := *c
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.s.campaigns[c.ID] = &stored
	r.s.campaignOrder = append(r.s.campaignOrder, c.ID)
	*c = stored
	return nil
}

func (r *memCampaigns) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaigns) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Campaign, 0)
	for _, id := range r.s.campaignOrder {
		c := r.s.campaigns[id]
		if params.MerchantID != "" && c.MerchantID != params.MerchantID {
			continue
		}
		if params.Status != nil && c.Status != *params.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (r *memCampaigns) TransitionStatus(
	ctx context.Context,
	id string,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
	fields map[string]any,
) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if c.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	c.Status = to
	if t, ok := fieldTime(fields, "started_at"); ok {
		c.StartedAt = t
	}
	if t, ok := fieldTime(fields, "completed_at"); ok {
		c.CompletedAt = t
	}
	if t, ok := fieldTime(fields, "scheduled_at"); ok {
		c.ScheduledAt = t
	}
	c.UpdatedAt = r.s.now().UTC()
	return true, nil
}

func (r *memCampaigns) update(id string, apply func(c *domain.Campaign)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	apply(c)
	c.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r *memCampaigns) SetAudience(ctx context.Context, id string, records []map[string]any, estimated int) error {
	return r.update(id, func(c *domain.Campaign) {
		c.AudienceData = records
		c.EstimatedRecipients = estimated
	})
}

func (r *memCampaigns) SetEstimatedRecipients(ctx context.Context, id string, estimated int) error {
	return r.update(id, func(c *domain.Campaign) {
		c.AudienceData = nil
		c.EstimatedRecipients = estimated
	})
}

func (r *memCampaigns) IncrementFailed(ctx context.Context, id string, n int) error {
	return r.update(id, func(c *domain.Campaign) { c.TotalFailed += n })
}

func (r *memCampaigns) UpdateMetrics(ctx context.Context, id string, stats domain.CampaignStats) error {
	return r.update(id, func(c *domain.Campaign) {
		c.ActualRecipients = stats.Linked
		c.TotalSent = stats.Sent
		c.TotalDelivered = stats.Delivered
		c.TotalFailed = stats.Failed
		c.TotalOpened = stats.Opened
		c.TotalClicked = stats.Clicked
	})
}

func (r *memCampaigns) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Campaign, 0)
	for _, id := range r.s.campaignOrder {
		c := r.s.campaigns[id]
		if c.Status == domain.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memCampaigns) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Campaign, 0)
	for _, id := range r.s.campaignOrder {
		if c := r.s.campaigns[id]; c.Status == status {
			cp := *c
			cp.AudienceData = nil
			out = append(out, cp)
		}
	}
	return out, nil
}

type memCampaignEvents struct{ s *memStore }

var _ repository.CampaignEventRepository = (*memCampaignEvents)(nil)

func (r *memCampaignEvents) Create(ctx context.Context, e *domain.CampaignEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.campaignEvents = append(r.s.campaignEvents, *e)
	return nil
}

func (r *memCampaignEvents) ListByCampaign(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.CampaignEvent, 0)
	for _, e := range r.s.campaignEvents {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- campaign recipients ---

type memRecipients struct{ s *memStore }

var _ repository.CampaignRecipientRepository = (*memRecipients)(nil)

func (r *memRecipients) CreateBatch(ctx context.Context, recipients []*domain.CampaignRecipient) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var inserted int64
	for _, rec := range recipients {
		dup := false
		for _, id := range r.s.recipientOrder {
			existing := r.s.recipients[id]
			if existing.CampaignID == rec.CampaignID && existing.Address == rec.Address {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		stored := *rec
		stored.CreatedAt = r.s.now().UTC()
		stored.UpdatedAt = stored.CreatedAt
		r.s.recipients[rec.ID] = &stored
		r.s.recipientOrder = append(r.s.recipientOrder, rec.ID)
		inserted++
	}
	return inserted, nil
}

func (r *memRecipients) list(match func(rec *domain.CampaignRecipient) bool) []domain.CampaignRecipient {
	out := make([]domain.CampaignRecipient, 0)
	for _, id := range r.s.recipientOrder {
		if rec := r.s.recipients[id]; match(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

func (r *memRecipients) ListByCampaign(ctx context.Context, campaignID string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(func(rec *domain.CampaignRecipient) bool {
		return rec.CampaignID == campaignID && (status == nil || rec.Status == *status)
	}), nil
}

func (r *memRecipients) ListPendingUnlinked(ctx context.Context, campaignID string, limit int) ([]domain.CampaignRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.list(func(rec *domain.CampaignRecipient) bool {
		return rec.CampaignID == campaignID && rec.Status == domain.RecipientStatusPending && rec.NotificationID == nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRecipients) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.list(func(rec *domain.CampaignRecipient) bool { return rec.CampaignID == campaignID }))), nil
}

func (r *memRecipients) AttachNotification(ctx context.Context, recipientID string, n *domain.Notification) error {
	if n.CampaignID == nil {
		return domain.ErrValidation
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.attachErr != nil {
		return r.s.attachErr
	}
	c, ok := r.s.campaigns[*n.CampaignID]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status != domain.CampaignStatusRunning {
		return domain.NewStateError("campaign", c.ID, "enqueue recipients of", c.Status, domain.CampaignStatusRunning)
	}
	rec, ok := r.s.recipients[recipientID]
	if !ok || rec.Status != domain.RecipientStatusPending || rec.NotificationID != nil {
		return domain.ErrConflict
	}
	if !(&memNotifications{r.s}).insertLocked(n) {
		return gorm.ErrDuplicatedKey
	}
	id := n.ID
	rec.NotificationID = &id
	return nil
}

func (r *memRecipients) MarkFailed(ctx context.Context, recipientID string, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[recipientID]
	if !ok || rec.Status != domain.RecipientStatusPending {
		return domain.ErrConflict
	}
	rec.Status = domain.RecipientStatusFailed
	rec.ErrorMessage = &errMsg
	return nil
}

func (r *memRecipients) UnlinkNotifications(ctx context.Context, campaignID string, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := map[string]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	var n int64
	for _, id := range r.s.recipientOrder {
		rec := r.s.recipients[id]
		if rec.CampaignID != campaignID || rec.NotificationID == nil {
			continue
		}
		if _, ok := set[*rec.NotificationID]; ok {
			rec.NotificationID = nil
			rec.Status = domain.RecipientStatusPending
			n++
		}
	}
	return n, nil
}

func (r *memRecipients) SyncFromNotifications(ctx context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var updated int64
	for _, id := range r.s.recipientOrder {
		rec := r.s.recipients[id]
		if rec.CampaignID != campaignID || rec.NotificationID == nil || rec.Status == domain.RecipientStatusOptedOut {
			continue
		}
		n, ok := r.s.notifications[*rec.NotificationID]
		if !ok {
			continue
		}
		rec.Status = domain.RecipientStatusFromNotification(n.Status)
		rec.SentAt = n.SentAt
		rec.DeliveredAt = n.DeliveredAt
		rec.ErrorMessage = n.ErrorMessage
		updated++
	}
	return updated, nil
}

func (r *memRecipients) Stats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stats domain.CampaignStats
	for _, rec := range r.list(func(rec *domain.CampaignRecipient) bool { return rec.CampaignID == campaignID }) {
		stats.Recipients++
		if rec.NotificationID != nil {
			stats.Linked++
		}
		switch rec.Status {
		case domain.RecipientStatusPending:
			stats.Pending++
		case domain.RecipientStatusSent:
			stats.Sent++
		case domain.RecipientStatusDelivered:
			stats.Sent++
			stats.Delivered++
		case domain.RecipientStatusFailed:
			stats.Failed++
		case domain.RecipientStatusOptedOut:
			stats.OptedOut++
		}
	}
	return stats, nil
}

// --- providers ---

type memProviders struct{ s *memStore }

var _ repository.ProviderRepository = (*memProviders)(nil)

func (r *memProviders) active(channel domain.Channel) []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0)
	for _, p := range r.s.providers {
		if p.Channel == channel && p.Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *memProviders) GetActiveByName(ctx context.Context, channel domain.Channel, name string) (*domain.ProviderConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.active(channel) {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memProviders) GetFirstActive(ctx context.Context, channel domain.Channel) (*domain.ProviderConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	active := r.active(channel)
	if len(active) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := active[0]
	return &cp, nil
}

func (r *memProviders) Upsert(ctx context.Context, p *domain.ProviderConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.providers {
		if r.s.providers[i].Channel == p.Channel && r.s.providers[i].Name == p.Name {
			r.s.providers[i] = *p
			return nil
		}
	}
	r.s.providers = append(r.s.providers, *p)
	return nil
}

func (r *memProviders) List(ctx context.Context, channel *domain.Channel) ([]domain.ProviderConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.ProviderConfig, 0)
	for _, p := range r.s.providers {
		if channel == nil || p.Channel == *channel {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- bulks ---

type memBulks struct{ s *memStore }

var _ repository.BulkRepository = (*memBulks)(nil)

func (r *memBulks) Create(ctx context.Context, b *domain.BulkNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *b
	stored.CreatedAt = r.s.now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.s.bulks[b.ID] = &stored
	r.s.bulkOrder = append(r.s.bulkOrder, b.ID)
	*b = stored
	return nil
}

func (r *memBulks) GetByID(ctx context.Context, id string) (*domain.BulkNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bulks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memBulks) TransitionStatus(
	ctx context.Context,
	id string,
	from []domain.BulkStatus,
	to domain.BulkStatus,
	fields map[string]any,
) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bulks[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if b.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	b.Status = to
	if t, ok := fieldTime(fields, "started_at"); ok {
		b.StartedAt = t
	}
	if t, ok := fieldTime(fields, "completed_at"); ok {
		b.CompletedAt = t
	}
	return true, nil
}

func (r *memBulks) UpdateCounts(ctx context.Context, id string, counts repository.BulkCounts) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bulks[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.ProcessedCount = counts.Processed
	b.SuccessCount = counts.Succeeded
	b.FailedCount = counts.Failed
	b.SkippedCount = counts.Skipped
	return nil
}

func (r *memBulks) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.BulkNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.BulkNotification, 0)
	for _, id := range r.s.bulkOrder {
		b := r.s.bulks[id]
		if b.Status == domain.BulkStatusPending && (b.ScheduledAt == nil || !b.ScheduledAt.After(now)) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memBulks) ListByStatus(ctx context.Context, status domain.BulkStatus, limit int) ([]domain.BulkNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.BulkNotification, 0)
	for _, id := range r.s.bulkOrder {
		if b := r.s.bulks[id]; b.Status == status {
			cp := *b
			cp.Recipients = nil
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- merchant settings ---

type memMerchants struct{ s *memStore }

var _ repository.MerchantSettingsRepository = (*memMerchants)(nil)

func (r *memMerchants) Get(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.merchants[merchantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memMerchants) Upsert(ctx context.Context, settings *domain.MerchantSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *settings
	r.s.merchants[settings.MerchantID] = &cp
	return nil
}

func (r *memMerchants) IncrementUsage(ctx context.Context, merchantID string, channel domain.Channel, today time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.merchants[merchantID]
	if !ok {
		m = domain.NewMerchantSettings(merchantID, today)
		r.s.merchants[merchantID] = m
	}
	day := domain.TruncateDay(today)
	if m.UsageResetDate.Before(day) {
		m.SentToday = map[domain.Channel]int{}
		m.UsageResetDate = day
	}
	m.SentToday[channel]++
	return nil
}

// --- collaborators ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakePublisher struct {
	mu        sync.Mutex
	messages  []queue.NotificationMessage
	queues    []string
	publishFn func(queueName string, msg queue.NotificationMessage) error
}

func (p *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.NotificationMessage) error {
	if p.publishFn != nil {
		if err := p.publishFn(queueName, msg); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	p.queues = append(p.queues, queueName)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

// take removes and returns every published message.
func (p *fakePublisher) take() []queue.NotificationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.messages
	p.messages = nil
	return out
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	sendFn     func(call int, n domain.Notification) (*provider.ProviderResponse, error)
	validateFn func(address string) bool
}

func (f *fakeProvider) Send(ctx context.Context, n domain.Notification) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(call, n)
	}
	return &provider.ProviderResponse{StatusCode: 202, MessageID: fmt.Sprintf("msg-%d", call)}, nil
}

func (f *fakeProvider) ValidateRecipient(address string) bool {
	if f.validateFn != nil {
		return f.validateFn(address)
	}
	return true
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	resolveFn func(cfg domain.ProviderConfig) (provider.Provider, error)
}

func (f *fakeResolver) Resolve(cfg domain.ProviderConfig) (provider.Provider, error) {
	return f.resolveFn(cfg)
}

type fakeChecker struct {
	mu      sync.Mutex
	rules   []ratelimit.Rule
	checkFn func(rule ratelimit.Rule) (bool, error)
}

func (f *fakeChecker) Check(ctx context.Context, rule ratelimit.Rule) (bool, error) {
	f.mu.Lock()
	f.rules = append(f.rules, rule)
	f.mu.Unlock()
	if f.checkFn != nil {
		return f.checkFn(rule)
	}
	return true, nil
}
