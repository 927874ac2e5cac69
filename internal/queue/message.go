package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

// Message sources, used as the AMQP message type and as a metrics label.
const (
	SourceDirect   = "direct"
	SourceCampaign = "campaign"
	SourceBulk     = "bulk"
)

// NotificationMessage points a worker at a notification row. The row is the
// source of truth; a stale message for a non-pending row is a no-op.
type NotificationMessage struct {
	NotificationID string          `json:"notificationId"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	MerchantID     string          `json:"merchantId,omitempty"`
	CampaignID     string          `json:"campaignId,omitempty"`
	BulkID         string          `json:"bulkId,omitempty"`
	Channel        domain.Channel  `json:"channel"`
	Priority       domain.Priority `json:"priority"`
}

func NewNotificationMessage(n domain.Notification) NotificationMessage {
	msg := NotificationMessage{
		NotificationID: n.ID,
		CorrelationID:  n.CorrelationID,
		MerchantID:     n.MerchantID,
		Channel:        n.Channel,
		Priority:       n.Priority,
	}
	if n.CampaignID != nil {
		msg.CampaignID = *n.CampaignID
	}
	if n.BulkID != nil {
		msg.BulkID = *n.BulkID
	}
	return msg
}

// Source reports which flow produced the notification.
func (m NotificationMessage) Source() string {
	switch {
	case m.CampaignID != "":
		return SourceCampaign
	case m.BulkID != "":
		return SourceBulk
	default:
		return SourceDirect
	}
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	if m.CampaignID != "" && m.BulkID != "" {
		return fmt.Errorf("notification %s cannot belong to both campaign %s and bulk job %s",
			m.NotificationID, m.CampaignID, m.BulkID)
	}
	return nil
}
