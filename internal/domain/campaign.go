package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// RecipientStatus represents the state of one campaign recipient.
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusDelivered RecipientStatus = "delivered"
	RecipientStatusFailed    RecipientStatus = "failed"
	RecipientStatusOptedOut  RecipientStatus = "opted_out"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsTerminal() bool {
	switch s {
	case RecipientStatusSent, RecipientStatusDelivered, RecipientStatusFailed, RecipientStatusOptedOut:
		return true
	}
	return false
}

// RecipientStatusFromNotification maps a linked notification status onto the recipient.
// Notifications that are queued or in flight keep the recipient pending and a
// cancelled notification counts as a failed delivery for the recipient.
func RecipientStatusFromNotification(s Status) RecipientStatus {
	switch s {
	case StatusSent:
		return RecipientStatusSent
	case StatusDelivered:
		return RecipientStatusDelivered
	case StatusFailed, StatusCancelled:
		return RecipientStatusFailed
	default:
		return RecipientStatusPending
	}
}

// Campaign is a templated send to many recipients on one channel.
type Campaign struct {
	ID          string
	MerchantID  string
	Name        string
	Description string
	Channel     Channel
	Status      CampaignStatus

	TemplateSubject string
	TemplateBody    string
	TargetAudience  map[string]any
	AudienceData    []map[string]any

	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	EstimatedRecipients int
	ActualRecipients    int
	TotalSent           int
	TotalDelivered      int
	TotalFailed         int
	TotalOpened         int
	TotalClicked        int

	BudgetLimit *float64
	DailyLimit  *int
	Settings    map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.MerchantID) == "" {
		return fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if !c.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, c.Channel)
	}
	if strings.TrimSpace(c.TemplateBody) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	if len([]rune(c.TemplateSubject)) > MaxSubjectLength {
		return fmt.Errorf("%w: template subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if c.DailyLimit != nil && *c.DailyLimit < 0 {
		return fmt.Errorf("%w: daily limit must be >= 0", ErrValidation)
	}
	if c.BudgetLimit != nil && *c.BudgetLimit < 0 {
		return fmt.Errorf("%w: budget limit must be >= 0", ErrValidation)
	}
	return nil
}

// CampaignRecipient is one addressable target of a campaign.
type CampaignRecipient struct {
	ID             string
	CampaignID     string
	Address        string
	Data           map[string]any
	Status         RecipientStatus
	NotificationID *string
	ErrorMessage   *string
	SentAt         *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CampaignStats are counters recomputed from a campaign's recipients and notifications.
type CampaignStats struct {
	Recipients int
	Pending    int
	Sent       int
	Delivered  int
	Failed     int
	OptedOut   int
	Linked     int
	InFlight   int
	Opened     int
	Clicked    int
}

// Terminal returns the number of recipients that reached a final status.
func (s CampaignStats) Terminal() int {
	return s.Sent + s.Failed + s.OptedOut
}

// Complete reports whether every recipient is terminal and nothing is still in flight.
func (s CampaignStats) Complete() bool {
	return s.Pending == 0 && s.InFlight == 0 && s.Terminal() == s.Recipients
}
