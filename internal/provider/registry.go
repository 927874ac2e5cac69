package provider

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

// AnyChannel registers a factory for every channel.
const AnyChannel domain.Channel = "*"

// Factory builds an adapter from a stored provider configuration.
type Factory func(cfg domain.ProviderConfig) (Provider, error)

type registryKey struct {
	channel domain.Channel
	name    string
}

type cacheEntry struct {
	updatedAt time.Time
	provider  Provider
}

// Registry resolves provider configurations to adapters, first by
// (channel, name) and then by (channel, driver).
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
	cache     map[string]cacheEntry
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[registryKey]Factory),
		cache:     make(map[string]cacheEntry),
	}
}

// Register binds a factory to a provider name or driver on a channel.
func (r *Registry) Register(channel domain.Channel, nameOrDriver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey{channel: channel, name: strings.ToLower(strings.TrimSpace(nameOrDriver))}] = factory
}

// Resolve returns the adapter for cfg. Unknown drivers and factory failures
// are reported as ErrProviderMisconfigured.
func (r *Registry) Resolve(cfg domain.ProviderConfig) (Provider, error) {
	cacheKey := cfg.Channel.String() + "/" + cfg.Name
	r.mu.RLock()
	entry, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok && entry.updatedAt.Equal(cfg.UpdatedAt) {
		return entry.provider, nil
	}

	factory := r.lookup(cfg)
	if factory == nil {
		return nil, misconfigured("no adapter for provider %q (channel %s, driver %q)", cfg.Name, cfg.Channel, cfg.Driver())
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderMisconfigured, cfg.Name, err)
	}

	r.mu.Lock()
	r.cache[cacheKey] = cacheEntry{updatedAt: cfg.UpdatedAt, provider: p}
	r.mu.Unlock()
	return p, nil
}

func (r *Registry) lookup(cfg domain.ProviderConfig) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.ToLower(cfg.Name)
	driver := cfg.Driver()
	candidates := []registryKey{
		{channel: cfg.Channel, name: name},
		{channel: cfg.Channel, name: driver},
		{channel: AnyChannel, name: driver},
	}
	for _, key := range candidates {
		if key.name == "" {
			continue
		}
		if f, ok := r.factories[key]; ok {
			return f
		}
	}
	return nil
}

// NewDefaultRegistry registers the built-in drivers.
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	settings := registrySettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	r := NewRegistry()
	r.Register(AnyChannel, DriverWebhook, func(cfg domain.ProviderConfig) (Provider, error) {
		return NewWebhookProviderFromConfig(cfg, settings.webhookTimeout)
	})
	r.Register(domain.ChannelEmail, DriverSMTP, func(cfg domain.ProviderConfig) (Provider, error) {
		return NewSMTPProviderFromConfig(cfg)
	})
	r.Register(AnyChannel, DriverLog, func(cfg domain.ProviderConfig) (Provider, error) {
		return NewLogProvider(cfg.Channel, settings.logSink), nil
	})
	return r
}

type registrySettings struct {
	webhookTimeout time.Duration
	logSink        LogSink
}

type RegistryOption func(*registrySettings)

func WithWebhookTimeout(d time.Duration) RegistryOption {
	return func(s *registrySettings) { s.webhookTimeout = d }
}

func WithLogSink(sink LogSink) RegistryOption {
	return func(s *registrySettings) { s.logSink = sink }
}
