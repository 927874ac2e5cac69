package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further dispatch transition can leave s.
// Delivered is reached from sent through provider callbacks only.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelWhatsApp}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWhatsApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriorityFromString parses a priority; an empty value means normal.
func ParsePriorityFromString(s string) (Priority, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return PriorityNormal, nil
	}
	pr := Priority(strings.ToLower(trimmed))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

const (
	MaxRecipientLength = 255
	MaxSubjectLength   = 255
	MaxBodyLength      = 10000

	DefaultMaxRetries = 3
)

// Notification is a single message to one recipient on one channel.
type Notification struct {
	ID            string
	MerchantID    string
	CorrelationID string
	Channel       Channel
	Priority      Priority
	Recipient     string
	Subject       string
	Body          string
	Metadata      map[string]any
	Status        Status

	IdempotencyKey *string

	CampaignID          *string
	CampaignRecipientID *string
	BulkID              *string

	ScheduledAt         *time.Time
	AvailableAt         *time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	DeliveredAt         *time.Time

	ProviderName      *string
	ProviderMessageID *string
	ProviderResponse  map[string]any

	RetryCount   int
	MaxRetries   int
	Retryable    bool
	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.MerchantID) == "" {
		return fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if len([]rune(n.Recipient)) > MaxRecipientLength {
		return fmt.Errorf("%w: recipient exceeds %d characters", ErrValidation, MaxRecipientLength)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if len([]rune(n.Subject)) > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if bodyLen := len([]rune(n.Body)); bodyLen > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, bodyLen)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must be >= 0", ErrValidation)
	}
	return nil
}

// RetriesExhausted reports whether another provider call would exceed MaxRetries.
func (n *Notification) RetriesExhausted() bool {
	return n.RetryCount > n.MaxRetries
}

// CanCancel reports whether the notification can still be cancelled.
func (n *Notification) CanCancel() bool {
	return n.Status == StatusPending
}
