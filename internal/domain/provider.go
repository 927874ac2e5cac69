package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultProviderRatePerMinute = 100
	DefaultProviderRatePerHour   = 1000
)

// ProviderConfig is a configured vendor integration for one channel.
// Lower Priority values are preferred by the router.
type ProviderConfig struct {
	ID                 string
	Name               string
	Channel            Channel
	Active             bool
	RateLimitPerMinute int
	RateLimitPerHour   int
	Priority           int
	Config             map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (p *ProviderConfig) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: provider name is required", ErrValidation)
	}
	if !p.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, p.Channel)
	}
	if p.RateLimitPerMinute < 0 || p.RateLimitPerHour < 0 {
		return fmt.Errorf("%w: provider rate limits must be >= 0", ErrValidation)
	}
	return nil
}

// Driver returns the adapter kind named in the provider config, if any.
func (p *ProviderConfig) Driver() string {
	if p == nil || p.Config == nil {
		return ""
	}
	driver, _ := p.Config["driver"].(string)
	return strings.ToLower(strings.TrimSpace(driver))
}

// ConfigString reads a string setting from the provider config.
func (p *ProviderConfig) ConfigString(key string) string {
	if p == nil || p.Config == nil {
		return ""
	}
	value, _ := p.Config[key].(string)
	return strings.TrimSpace(value)
}
