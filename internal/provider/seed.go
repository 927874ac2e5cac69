package provider

import (
	"fmt"
	"os"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Providers []seedProvider `yaml:"providers"`
}

type seedProvider struct {
	Name               string         `yaml:"name"`
	Channel            string         `yaml:"channel"`
	Active             *bool          `yaml:"active"`
	RateLimitPerMinute int            `yaml:"rate_limit_per_minute"`
	RateLimitPerHour   int            `yaml:"rate_limit_per_hour"`
	Priority           int            `yaml:"priority"`
	Config             map[string]any `yaml:"config"`
}

// LoadSeedFile reads provider definitions from a YAML file. String config
// values may reference environment variables as ${NAME}.
func LoadSeedFile(path string) ([]domain.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]domain.ProviderConfig, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	configs := make([]domain.ProviderConfig, 0, len(file.Providers))
	seen := make(map[string]struct{}, len(file.Providers))
	for i, sp := range file.Providers {
		channel, err := domain.ParseChannelFromString(sp.Channel)
		if err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i+1, err)
		}

		cfg := domain.ProviderConfig{
			Name:               sp.Name,
			Channel:            channel,
			Active:             sp.Active == nil || *sp.Active,
			RateLimitPerMinute: sp.RateLimitPerMinute,
			RateLimitPerHour:   sp.RateLimitPerHour,
			Priority:           sp.Priority,
			Config:             expandEnv(sp.Config),
		}
		if cfg.RateLimitPerMinute == 0 {
			cfg.RateLimitPerMinute = domain.DefaultProviderRatePerMinute
		}
		if cfg.RateLimitPerHour == 0 {
			cfg.RateLimitPerHour = domain.DefaultProviderRatePerHour
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i+1, err)
		}

		key := cfg.Channel.String() + "/" + cfg.Name
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %s on channel %s", domain.ErrValidation, cfg.Name, cfg.Channel)
		}
		seen[key] = struct{}{}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func expandEnv(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		switch value := v.(type) {
		case string:
			out[k] = os.ExpandEnv(value)
		case map[string]any:
			out[k] = expandEnv(value)
		default:
			out[k] = value
		}
	}
	return out
}
