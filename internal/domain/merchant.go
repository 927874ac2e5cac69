package domain

import "time"

// Default daily send limits per channel.
var DefaultDailyLimits = map[Channel]int{
	ChannelSMS:      1000,
	ChannelEmail:    10000,
	ChannelPush:     50000,
	ChannelWhatsApp: 1000,
}

// Default preferred provider names per channel.
var DefaultPreferredProviders = map[Channel]string{
	ChannelSMS:      "twilio",
	ChannelEmail:    "sendgrid",
	ChannelPush:     "firebase",
	ChannelWhatsApp: "whatsapp_business",
}

// MerchantSettings holds per-merchant routing preferences, quotas and usage.
type MerchantSettings struct {
	MerchantID         string
	PreferredProviders map[Channel]string
	DailyLimits        map[Channel]int
	SentToday          map[Channel]int
	UsageResetDate     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewMerchantSettings returns settings populated with defaults.
func NewMerchantSettings(merchantID string, today time.Time) *MerchantSettings {
	s := &MerchantSettings{
		MerchantID:         merchantID,
		PreferredProviders: make(map[Channel]string, len(DefaultPreferredProviders)),
		DailyLimits:        make(map[Channel]int, len(DefaultDailyLimits)),
		SentToday:          make(map[Channel]int, len(Channels)),
		UsageResetDate:     TruncateDay(today),
	}
	for ch, name := range DefaultPreferredProviders {
		s.PreferredProviders[ch] = name
	}
	for ch, limit := range DefaultDailyLimits {
		s.DailyLimits[ch] = limit
	}
	return s
}

func (s *MerchantSettings) PreferredProvider(channel Channel) string {
	if s != nil {
		if name, ok := s.PreferredProviders[channel]; ok {
			return name
		}
	}
	return DefaultPreferredProviders[channel]
}

func (s *MerchantSettings) DailyLimit(channel Channel) int {
	if s != nil {
		if limit, ok := s.DailyLimits[channel]; ok {
			return limit
		}
	}
	return DefaultDailyLimits[channel]
}

// HourlyLimit splits the daily limit into hourly buckets, never below one.
func (s *MerchantSettings) HourlyLimit(channel Channel) int {
	return max(s.DailyLimit(channel)/24, 1)
}

// UsageToday returns the sent counter for channel, treating a stale reset date as zero.
func (s *MerchantSettings) UsageToday(channel Channel, now time.Time) int {
	if s == nil || s.UsageResetDate.Before(TruncateDay(now)) {
		return 0
	}
	return s.SentToday[channel]
}

// TruncateDay returns midnight UTC of t's day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
