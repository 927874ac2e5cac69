package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/provider"
	"go.uber.org/zap"
)

const testMerchant = "merchant-1"

// harness wires every service to one memStore and one clock so tests can
// drive a notification through the queue and scheduler by hand.
type harness struct {
	clock     *testClock
	store     *memStore
	publisher *fakePublisher
	provider  *fakeProvider
	checker   *fakeChecker
	resolver  *fakeResolver

	dispatcher    *Dispatcher
	notifications *NotificationService
	campaigns     *CampaignService
	bulks         *BulkService
	expander      *BulkExpander
	scheduler     *Scheduler
	retries       *RetryScanner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := newTestClock()
	store := newMemStore(clock.Now)
	store.providers = []domain.ProviderConfig{
		{ID: "p-sms", Name: "twilio", Channel: domain.ChannelSMS, Active: true, Priority: 1},
		{ID: "p-email", Name: "sendgrid", Channel: domain.ChannelEmail, Active: true, Priority: 1},
	}

	h := &harness{
		clock:     clock,
		store:     store,
		publisher: &fakePublisher{},
		provider:  &fakeProvider{},
		checker:   &fakeChecker{},
	}
	h.resolver = &fakeResolver{resolveFn: func(cfg domain.ProviderConfig) (provider.Provider, error) {
		return h.provider, nil
	}}

	logger := zap.NewNop()
	notifications := store.notificationRepo()
	events := store.eventRepo()

	router, err := NewProviderRouter(store.providerRepo(), store.merchantRepo(), logger)
	if err != nil {
		t.Fatalf("NewProviderRouter() error = %v", err)
	}

	h.dispatcher, err = NewDispatcher(DispatcherDeps{
		Notifications: notifications,
		Events:        events,
		Merchants:     store.merchantRepo(),
		Router:        router,
		Providers:     h.resolver,
		Limits:        h.checker,
	}, DispatcherConfig{}, logger)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	h.dispatcher.now = clock.Now

	h.notifications, err = NewNotificationService(notifications, events, h.publisher, logger)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	h.notifications.now = clock.Now

	h.expander, err = NewBulkExpander(notifications, store.recipientRepo(), logger)
	if err != nil {
		t.Fatalf("NewBulkExpander() error = %v", err)
	}
	h.expander.now = clock.Now

	h.campaigns, err = NewCampaignService(CampaignServiceDeps{
		Campaigns:      store.campaignRepo(),
		Recipients:     store.recipientRepo(),
		Notifications:  notifications,
		Events:         events,
		CampaignEvents: store.campaignEventRepo(),
		Expander:       h.expander,
		Publisher:      h.publisher,
	}, logger)
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	h.campaigns.now = clock.Now

	h.bulks, err = NewBulkService(BulkServiceDeps{
		Bulks:         store.bulkRepo(),
		Notifications: notifications,
		Events:        events,
		Expander:      h.expander,
		Limits:        h.checker,
	}, 0, logger)
	if err != nil {
		t.Fatalf("NewBulkService() error = %v", err)
	}
	h.bulks.now = clock.Now

	h.scheduler, err = NewScheduler(SchedulerDeps{
		Notifications: notifications,
		Events:        events,
		Campaigns:     store.campaignRepo(),
		Bulks:         store.bulkRepo(),
		CampaignRuns:  h.campaigns,
		BulkRuns:      h.bulks,
		Publisher:     h.publisher,
	}, SchedulerConfig{}, logger)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	h.scheduler.now = clock.Now

	h.retries, err = NewRetryScanner(notifications, events, 0, 0, logger)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}
	h.retries.now = clock.Now

	return h
}

// drain dispatches every published message, including messages published
// while draining, and returns how many were dispatched.
func (h *harness) drain(t *testing.T) int {
	t.Helper()

	dispatched := 0
	for round := 0; round < 100; round++ {
		msgs := h.publisher.take()
		if len(msgs) == 0 {
			return dispatched
		}
		for _, msg := range msgs {
			if err := h.dispatcher.Dispatch(context.Background(), msg.NotificationID); err != nil {
				t.Fatalf("Dispatch(%s) error = %v", msg.NotificationID, err)
			}
			dispatched++
		}
	}
	t.Fatal("drain did not settle")
	return dispatched
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

func (h *harness) seed(t *testing.T, n domain.Notification) *domain.Notification {
	t.Helper()
	if n.MerchantID == "" {
		n.MerchantID = testMerchant
	}
	if n.Channel == "" {
		n.Channel = domain.ChannelSMS
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.Recipient == "" {
		n.Recipient = "+15551230000"
	}
	if n.Body == "" {
		n.Body = "hello"
	}
	if n.Status == "" {
		n.Status = domain.StatusPending
	}
	if err := h.store.notificationRepo().Create(context.Background(), &n); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	return &n
}

func (h *harness) notification(t *testing.T, id string) *domain.Notification {
	t.Helper()
	n, err := h.store.notificationRepo().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return n
}

func (h *harness) events(t *testing.T, id string) []domain.NotificationEvent {
	t.Helper()
	events, err := h.store.eventRepo().ListByNotification(context.Background(), id)
	if err != nil {
		t.Fatalf("ListByNotification() error = %v", err)
	}
	return events
}

func (h *harness) countEvents(t *testing.T, id string, eventType domain.EventType) int {
	t.Helper()
	count := 0
	for _, e := range h.events(t, id) {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

// lastEvent returns the newest event of the given type.
func (h *harness) lastEvent(t *testing.T, id string, eventType domain.EventType) domain.NotificationEvent {
	t.Helper()
	events := h.events(t, id)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == eventType {
			return events[i]
		}
	}
	t.Fatalf("notification %s has no %s event", id, eventType)
	return domain.NotificationEvent{}
}

func (h *harness) campaignEventTypes(t *testing.T, campaignID string) []domain.CampaignEventType {
	t.Helper()
	events, err := h.store.campaignEventRepo().ListByCampaign(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("ListByCampaign() error = %v", err)
	}
	types := make([]domain.CampaignEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func (h *harness) countByStatus(campaignID string, status domain.Status) int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	count := 0
	for _, n := range h.store.notifications {
		if n.CampaignID != nil && *n.CampaignID == campaignID && n.Status == status {
			count++
		}
	}
	return count
}

func (h *harness) countCampaignNotifications(campaignID string) int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	count := 0
	for _, n := range h.store.notifications {
		if n.CampaignID != nil && *n.CampaignID == campaignID {
			count++
		}
	}
	return count
}

func transientError() error {
	return &provider.ProviderError{StatusCode: 503, Message: "service unavailable", Transient: true}
}

func intPtr(v int) *int { return &v }

func containsCampaignEvent(types []domain.CampaignEventType, want domain.CampaignEventType) bool {
	for _, got := range types {
		if got == want {
			return true
		}
	}
	return false
}

func (h *harness) at(d time.Duration) time.Time {
	return h.clock.Now().Add(d)
}
