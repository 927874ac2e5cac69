package domain

import "time"

// EventType names an entry in a notification's append-only timeline.
type EventType string

const (
	EventCreated           EventType = "created"
	EventProcessingStarted EventType = "processing_started"
	EventThrottled         EventType = "throttled"
	EventSent              EventType = "sent"
	EventRetryScheduled    EventType = "retry_scheduled"
	EventFailed            EventType = "failed"
	EventCancelled         EventType = "cancelled"
	EventRetry             EventType = "retry"
	EventProcessingTimeout EventType = "processing_timeout"
	EventDelivered         EventType = "delivered"
	EventOpened            EventType = "opened"
	EventClicked           EventType = "clicked"
)

func (e EventType) String() string { return string(e) }

// IsEngagement reports whether the event arrives from a provider or tracking callback.
func (e EventType) IsEngagement() bool {
	switch e {
	case EventDelivered, EventOpened, EventClicked:
		return true
	}
	return false
}

// Failure reasons recorded in event data under the "reason" key.
const (
	ReasonNoProvider            = "no_provider"
	ReasonProviderMisconfigured = "provider_misconfigured"
	ReasonInvalidRecipient      = "invalid_recipient"
	ReasonRetriesExhausted      = "retries_exhausted"
	ReasonProviderError         = "provider_error"
	ReasonCampaignPaused        = "campaign_paused"
	ReasonCampaignCancelled     = "campaign_cancelled"
	ReasonBulkCancelled         = "bulk_cancelled"
	ReasonUserCancelled         = "user_cancelled"
	ReasonMerchantLimit         = "merchant_limit"
	ReasonProviderLimit         = "provider_limit"
)

// NotificationEvent records a single transition or callback for a notification.
type NotificationEvent struct {
	ID             string
	NotificationID string
	EventType      EventType
	Data           map[string]any
	ErrorMessage   *string
	CreatedAt      time.Time
}

// CampaignEventType names an entry in a campaign's audit log.
type CampaignEventType string

const (
	CampaignEventCreated            CampaignEventType = "created"
	CampaignEventRecipientsImported CampaignEventType = "recipients_imported"
	CampaignEventScheduled          CampaignEventType = "scheduled"
	CampaignEventLaunchStarted      CampaignEventType = "launch_started"
	CampaignEventLaunchCompleted    CampaignEventType = "launch_completed"
	CampaignEventPaused             CampaignEventType = "paused"
	CampaignEventResumed            CampaignEventType = "resumed"
	CampaignEventCancelled          CampaignEventType = "cancelled"
	CampaignEventCompleted          CampaignEventType = "completed"
	CampaignEventDuplicated         CampaignEventType = "duplicated"
)

func (e CampaignEventType) String() string { return string(e) }

// CampaignEvent records a lifecycle change of a campaign.
type CampaignEvent struct {
	ID         string
	CampaignID string
	EventType  CampaignEventType
	Data       map[string]any
	CreatedAt  time.Time
}
