package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

const DriverLog = "log"

// LogSink receives every notification accepted by a LogProvider.
type LogSink func(notification domain.Notification, messageID string)

// LogProvider accepts every valid notification without an external call.
// It backs local development and load tests.
type LogProvider struct {
	channel domain.Channel
	sink    LogSink
}

func NewLogProvider(channel domain.Channel, sink LogSink) *LogProvider {
	return &LogProvider{channel: channel, sink: sink}
}

func (p *LogProvider) ValidateRecipient(address string) bool {
	return domain.ValidAddress(p.channel, address)
}

func (p *LogProvider) Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Message: "send aborted", Transient: true, Cause: err}
	}
	messageID := "log-" + uuid.NewString()
	if p.sink != nil {
		p.sink(notification, messageID)
	}
	return &ProviderResponse{MessageID: messageID}, nil
}
