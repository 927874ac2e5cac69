package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func ptr(s string) *string { return &s }

func TestNewNotificationMessageSource(t *testing.T) {
	t.Parallel()

	base := domain.Notification{ID: "n-1", Channel: domain.ChannelEmail, Priority: domain.PriorityNormal}

	campaign := base
	campaign.CampaignID = ptr("c-1")
	bulk := base
	bulk.BulkID = ptr("b-1")

	tests := []struct {
		name string
		n    domain.Notification
		want string
	}{
		{name: "direct", n: base, want: SourceDirect},
		{name: "campaign", n: campaign, want: SourceCampaign},
		{name: "bulk", n: bulk, want: SourceBulk},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewNotificationMessage(tt.n).Source(); got != tt.want {
				t.Fatalf("Source() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageValidateRejectsTwoOwners(t *testing.T) {
	t.Parallel()

	msg := NotificationMessage{
		NotificationID: "n-1",
		CampaignID:     "c-1",
		BulkID:         "b-1",
		Channel:        domain.ChannelSMS,
		Priority:       domain.PriorityLow,
	}
	if err := msg.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want owner conflict")
	}
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3*3600))
	msg := NotificationMessage{
		NotificationID: "n-1",
		CorrelationID:  "corr-1",
		MerchantID:     "m-1",
		CampaignID:     "c-1",
		Channel:        domain.ChannelSMS,
		Priority:       domain.PriorityUrgent,
	}

	p, err := newPublishing(msg, now)
	if err != nil {
		t.Fatalf("newPublishing() error = %v", err)
	}
	if p.DeliveryMode != amqp.Persistent {
		t.Fatalf("delivery mode = %d, want persistent", p.DeliveryMode)
	}
	if p.MessageId != "n-1" || p.CorrelationId != "corr-1" {
		t.Fatalf("ids = %q/%q", p.MessageId, p.CorrelationId)
	}
	if p.Type != SourceCampaign || p.AppId != appID {
		t.Fatalf("type/app = %q/%q", p.Type, p.AppId)
	}
	if p.Priority != 4 {
		t.Fatalf("priority = %d, want 4", p.Priority)
	}
	if !p.Timestamp.Equal(now) || p.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want %v in UTC", p.Timestamp, now)
	}
	if p.Headers[headerMerchantID] != "m-1" || p.Headers[headerCampaignID] != "c-1" {
		t.Fatalf("headers = %v", p.Headers)
	}
	if _, ok := p.Headers[headerBulkID]; ok {
		t.Fatal("bulk header set for a campaign message")
	}

	var decoded NotificationMessage
	if err := json.Unmarshal(p.Body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded != msg {
		t.Fatalf("body = %+v, want %+v", decoded, msg)
	}
}

func TestNewPublishingRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	if _, err := newPublishing(NotificationMessage{Channel: domain.ChannelSMS, Priority: domain.PriorityLow}, time.Now()); err == nil {
		t.Fatal("newPublishing() error = nil, want validation error")
	}
}
