package domain

import (
	"fmt"
	"strings"
	"time"
)

// BulkStatus represents the processing state of a bulk job.
type BulkStatus string

const (
	BulkStatusPending    BulkStatus = "pending"
	BulkStatusProcessing BulkStatus = "processing"
	BulkStatusCompleted  BulkStatus = "completed"
	BulkStatusCancelled  BulkStatus = "cancelled"
)

func (s BulkStatus) String() string { return string(s) }

func (s BulkStatus) IsValid() bool {
	switch s {
	case BulkStatusPending, BulkStatusProcessing, BulkStatusCompleted, BulkStatusCancelled:
		return true
	}
	return false
}

// BulkNotification fans one templated message out to many recipients.
type BulkNotification struct {
	ID         string
	MerchantID string
	Name       string
	Channel    Channel
	Subject    string
	Body       string
	Priority   Priority
	Status     BulkStatus

	Recipients      []map[string]any
	TotalRecipients int
	ProcessedCount  int
	SuccessCount    int
	FailedCount     int
	SkippedCount    int

	Metadata map[string]any

	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *BulkNotification) Validate() error {
	if strings.TrimSpace(b.MerchantID) == "" {
		return fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	if !b.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, b.Channel)
	}
	if strings.TrimSpace(b.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if len([]rune(b.Subject)) > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if len(b.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	return nil
}

// BulkStats summarises the notifications created for a bulk job.
type BulkStats struct {
	Total     int
	Succeeded int
	Failed    int
	Open      int
}
