package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Send(context.Context, domain.Notification) (*ProviderResponse, error) {
	return &ProviderResponse{MessageID: s.name}, nil
}

func (s *stubProvider) ValidateRecipient(string) bool { return true }

func TestRegistryResolveOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(domain.ChannelSMS, "twilio", func(domain.ProviderConfig) (Provider, error) {
		return &stubProvider{name: "by-name"}, nil
	})
	r.Register(domain.ChannelSMS, "webhook", func(domain.ProviderConfig) (Provider, error) {
		return &stubProvider{name: "by-channel-driver"}, nil
	})
	r.Register(AnyChannel, "webhook", func(domain.ProviderConfig) (Provider, error) {
		return &stubProvider{name: "by-any-driver"}, nil
	})

	tests := []struct {
		name string
		cfg  domain.ProviderConfig
		want string
	}{
		{
			name: "name wins over driver",
			cfg:  domain.ProviderConfig{Name: "Twilio", Channel: domain.ChannelSMS, Config: map[string]any{"driver": "webhook"}},
			want: "by-name",
		},
		{
			name: "channel driver",
			cfg:  domain.ProviderConfig{Name: "vonage", Channel: domain.ChannelSMS, Config: map[string]any{"driver": "webhook"}},
			want: "by-channel-driver",
		},
		{
			name: "wildcard driver",
			cfg:  domain.ProviderConfig{Name: "fcm", Channel: domain.ChannelPush, Config: map[string]any{"driver": "WEBHOOK"}},
			want: "by-any-driver",
		},
	}

	for _, tt := range tests {
		p, err := r.Resolve(tt.cfg)
		if err != nil {
			t.Fatalf("%s: Resolve() error = %v", tt.name, err)
		}
		resp, _ := p.Send(context.Background(), domain.Notification{})
		if resp.MessageID != tt.want {
			t.Fatalf("%s: resolved %q, want %q", tt.name, resp.MessageID, tt.want)
		}
	}
}

func TestRegistryUnknownDriverIsMisconfigured(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Resolve(domain.ProviderConfig{Name: "mystery", Channel: domain.ChannelEmail, Config: map[string]any{"driver": "carrier-pigeon"}})
	if !errors.Is(err, ErrProviderMisconfigured) {
		t.Fatalf("Resolve() error = %v, want ErrProviderMisconfigured", err)
	}
	if IsRetryable(err) {
		t.Fatal("misconfigured provider must not be retryable")
	}
}

func TestRegistryFactoryErrorIsMisconfigured(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	_, err := r.Resolve(domain.ProviderConfig{Name: "hook", Channel: domain.ChannelPush, Config: map[string]any{"driver": "webhook"}})
	if !errors.Is(err, ErrProviderMisconfigured) {
		t.Fatalf("Resolve() error = %v, want ErrProviderMisconfigured", err)
	}
}

func TestRegistryCachesUntilConfigChanges(t *testing.T) {
	t.Parallel()

	builds := 0
	r := NewRegistry()
	r.Register(AnyChannel, "log", func(cfg domain.ProviderConfig) (Provider, error) {
		builds++
		return NewLogProvider(cfg.Channel, nil), nil
	})

	cfg := domain.ProviderConfig{Name: "dev", Channel: domain.ChannelPush, Config: map[string]any{"driver": "log"}, UpdatedAt: time.Unix(100, 0)}
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(cfg); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if builds != 1 {
		t.Fatalf("factory builds = %d, want 1", builds)
	}

	cfg.UpdatedAt = time.Unix(200, 0)
	if _, err := r.Resolve(cfg); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if builds != 2 {
		t.Fatalf("factory builds after update = %d, want 2", builds)
	}
}

func TestLogProviderSink(t *testing.T) {
	t.Parallel()

	var got []string
	r := NewDefaultRegistry(WithLogSink(func(n domain.Notification, messageID string) {
		got = append(got, n.Recipient+"|"+messageID)
	}))
	p, err := r.Resolve(domain.ProviderConfig{Name: "dev", Channel: domain.ChannelEmail, Config: map[string]any{"driver": "log"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	resp, err := p.Send(context.Background(), domain.Notification{Recipient: "a@example.com"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got) != 1 || got[0] != "a@example.com|"+resp.MessageID {
		t.Fatalf("sink calls = %v", got)
	}
	if p.ValidateRecipient("nope") {
		t.Fatal("ValidateRecipient() accepted an invalid email")
	}
}
