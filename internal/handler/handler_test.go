package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"github.com/kursadbilgin/multichannel-notifier/internal/service"
	"github.com/kursadbilgin/multichannel-notifier/internal/transport"
	"go.uber.org/zap"
)

const testMerchant = "merchant-1"

var errNotImplemented = errors.New("not implemented")

type stubNotificationService struct {
	sendFn       func(ctx context.Context, req service.SendRequest) (*domain.Notification, error)
	scheduleFn   func(ctx context.Context, req service.SendRequest) (*domain.Notification, error)
	getFn        func(ctx context.Context, id string) (*domain.Notification, error)
	listFn       func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	cancelFn     func(ctx context.Context, id string) (*domain.Notification, error)
	eventsFn     func(ctx context.Context, id string) ([]domain.NotificationEvent, error)
	engagementFn func(ctx context.Context, id string, eventType domain.EventType, data map[string]any) (*domain.Notification, error)
}

func (s *stubNotificationService) SendImmediate(ctx context.Context, req service.SendRequest) (*domain.Notification, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, req)
	}
	return nil, errNotImplemented
}

func (s *stubNotificationService) Schedule(ctx context.Context, req service.SendRequest) (*domain.Notification, error) {
	if s.scheduleFn != nil {
		return s.scheduleFn(ctx, req)
	}
	return nil, errNotImplemented
}

func (s *stubNotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubNotificationService) Cancel(ctx context.Context, id string) (*domain.Notification, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubNotificationService) Events(ctx context.Context, id string) ([]domain.NotificationEvent, error) {
	if s.eventsFn != nil {
		return s.eventsFn(ctx, id)
	}
	return nil, nil
}

func (s *stubNotificationService) RecordEngagement(
	ctx context.Context,
	id string,
	eventType domain.EventType,
	data map[string]any,
) (*domain.Notification, error) {
	if s.engagementFn != nil {
		return s.engagementFn(ctx, id, eventType, data)
	}
	return nil, errNotImplemented
}

type stubCampaignService struct {
	createFn    func(ctx context.Context, req service.CreateCampaignRequest) (*domain.Campaign, error)
	getFn       func(ctx context.Context, id string) (*domain.Campaign, error)
	importFn    func(ctx context.Context, id string, records []map[string]any) (service.ExpandResult, error)
	launchFn    func(ctx context.Context, id string, opts service.LaunchOptions) (*domain.Campaign, error)
	pauseFn     func(ctx context.Context, id string) (*domain.Campaign, error)
	duplicateFn func(ctx context.Context, id string, opts service.DuplicateOptions) (*domain.Campaign, error)
}

func (s *stubCampaignService) Create(ctx context.Context, req service.CreateCampaignRequest) (*domain.Campaign, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, errNotImplemented
}

func (s *stubCampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	return nil, 0, nil
}

func (s *stubCampaignService) ImportRecipients(ctx context.Context, id string, records []map[string]any) (service.ExpandResult, error) {
	if s.importFn != nil {
		return s.importFn(ctx, id, records)
	}
	return service.ExpandResult{}, errNotImplemented
}

func (s *stubCampaignService) Launch(ctx context.Context, id string, opts service.LaunchOptions) (*domain.Campaign, error) {
	if s.launchFn != nil {
		return s.launchFn(ctx, id, opts)
	}
	return nil, errNotImplemented
}

func (s *stubCampaignService) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.pauseFn != nil {
		return s.pauseFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubCampaignService) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	return nil, errNotImplemented
}

func (s *stubCampaignService) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	return nil, errNotImplemented
}

func (s *stubCampaignService) Duplicate(ctx context.Context, id string, opts service.DuplicateOptions) (*domain.Campaign, error) {
	if s.duplicateFn != nil {
		return s.duplicateFn(ctx, id, opts)
	}
	return nil, errNotImplemented
}

func (s *stubCampaignService) Recipients(ctx context.Context, id string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error) {
	return nil, nil
}

func (s *stubCampaignService) Events(ctx context.Context, id string) ([]domain.CampaignEvent, error) {
	return nil, nil
}

func (s *stubCampaignService) ReconcileMetrics(ctx context.Context, id string) (*domain.Campaign, error) {
	return nil, errNotImplemented
}

type stubBulkService struct {
	sendFn      func(ctx context.Context, req service.BulkRequest) (*domain.BulkNotification, error)
	getFn       func(ctx context.Context, id string) (*domain.BulkNotification, error)
	reconcileFn func(ctx context.Context, id string) (*domain.BulkNotification, error)
}

func (s *stubBulkService) SendBulk(ctx context.Context, req service.BulkRequest) (*domain.BulkNotification, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, req)
	}
	return nil, errNotImplemented
}

func (s *stubBulkService) Get(ctx context.Context, id string) (*domain.BulkNotification, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBulkService) Cancel(ctx context.Context, id string) (*domain.BulkNotification, error) {
	return nil, errNotImplemented
}

func (s *stubBulkService) Reconcile(ctx context.Context, id string) (*domain.BulkNotification, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, id)
	}
	return nil, errNotImplemented
}

type stubProviderStore struct {
	providers []domain.ProviderConfig
}

func (s *stubProviderStore) List(ctx context.Context, channel *domain.Channel) ([]domain.ProviderConfig, error) {
	var out []domain.ProviderConfig
	for _, p := range s.providers {
		if channel == nil || p.Channel == *channel {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubMerchantStore struct {
	settings map[string]*domain.MerchantSettings
}

func (s *stubMerchantStore) Get(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	if settings, ok := s.settings[merchantID]; ok {
		return settings, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubMerchantStore) Upsert(ctx context.Context, settings *domain.MerchantSettings) error {
	if s.settings == nil {
		s.settings = map[string]*domain.MerchantSettings{}
	}
	s.settings[settings.MerchantID] = settings
	return nil
}

type stubChecker struct {
	checkFn func(rule ratelimit.Rule) (bool, error)
}

func (s *stubChecker) Check(ctx context.Context, rule ratelimit.Rule) (bool, error) {
	return s.checkFn(rule)
}

// newTestApp fills missing services with stubs.
func newTestApp(t *testing.T, deps RouteDeps) *fiber.App {
	t.Helper()

	if deps.Notifications == nil {
		deps.Notifications = &stubNotificationService{}
	}
	if deps.Campaigns == nil {
		deps.Campaigns = &stubCampaignService{}
	}
	if deps.Bulks == nil {
		deps.Bulks = &stubBulkService{}
	}
	if deps.Providers == nil {
		deps.Providers = &stubProviderStore{}
	}
	if deps.Merchants == nil {
		deps.Merchants = &stubMerchantStore{}
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterRoutes(app, deps); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, respBody
}

func asMerchant(merchantID string) map[string]string {
	return map[string]string{HeaderMerchantID: merchantID}
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, string(body))
	}
	return out
}
