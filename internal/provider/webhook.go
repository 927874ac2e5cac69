package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

const (
	DriverWebhook         = "webhook"
	defaultWebhookTimeout = 10 * time.Second
)

type webhookRequest struct {
	To        string         `json:"to"`
	Channel   string         `json:"channel"`
	Subject   string         `json:"subject,omitempty"`
	Content   string         `json:"content"`
	Reference string         `json:"reference"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WebhookProvider posts notifications as JSON to an HTTP endpoint.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
	channel  domain.Channel
}

func NewWebhookProvider(channel domain.Channel, endpoint string) (*WebhookProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookProviderWithClient(channel, endpoint, client)
}

func NewWebhookProviderWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*WebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		channel:  channel,
	}, nil
}

// NewWebhookProviderFromConfig reads `url` and the optional `auth_token` and
// `headers` keys from the provider config.
func NewWebhookProviderFromConfig(cfg domain.ProviderConfig, timeout time.Duration) (*WebhookProvider, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client.SetTimeout(timeout)

	if token := cfg.ConfigString("auth_token"); token != "" {
		client.SetAuthToken(token)
	}
	if headers, ok := cfg.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				client.SetHeader(k, s)
			}
		}
	}

	return NewWebhookProviderWithClient(cfg.Channel, cfg.ConfigString("url"), client)
}

func (p *WebhookProvider) ValidateRecipient(address string) bool {
	return domain.ValidAddress(p.channel, address)
}

func (p *WebhookProvider) Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, misconfigured("webhook provider is not initialized")
	}

	reqBody := webhookRequest{
		To:        notification.Recipient,
		Channel:   notification.Channel.String(),
		Subject:   notification.Subject,
		Content:   notification.Body,
		Reference: notification.ID,
		Metadata:  notification.Metadata,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", notification.CorrelationID).
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
