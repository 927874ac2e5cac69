package provider

import (
	"context"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

// Provider is the outbound notification delivery port.
type Provider interface {
	Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error)
	ValidateRecipient(address string) bool
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}

// Raw renders the response as the JSON bag persisted on the notification.
func (r *ProviderResponse) Raw() map[string]any {
	if r == nil {
		return nil
	}
	raw := map[string]any{"message_id": r.MessageID}
	if r.StatusCode > 0 {
		raw["status_code"] = r.StatusCode
	}
	if r.Body != "" {
		raw["body"] = r.Body
	}
	return raw
}
