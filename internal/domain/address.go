package domain

import (
	"regexp"
	"strings"
	"time"
)

// addressFields lists the record keys consulted, in order, to find a channel address.
var addressFields = map[Channel][]string{
	ChannelEmail:    {"email", "Email"},
	ChannelSMS:      {"phone", "Phone"},
	ChannelPush:     {"device_token", "Device_Token"},
	ChannelWhatsApp: {"whatsapp", "WhatsApp", "phone"},
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)
)

const MaxScheduleAhead = 365 * 24 * time.Hour

// ExtractAddress resolves the channel address from a recipient record.
// It returns false when no field yields a usable address.
func ExtractAddress(channel Channel, record map[string]any) (string, bool) {
	for _, field := range addressFields[channel] {
		raw, ok := record[field]
		if !ok || raw == nil {
			continue
		}
		value := strings.TrimSpace(stringify(raw))
		if value == "" {
			continue
		}
		address := NormalizeAddress(channel, value)
		if !ValidAddress(channel, address) {
			return "", false
		}
		return address, true
	}
	return "", false
}

// NormalizeAddress canonicalises an address for storage and dedup.
func NormalizeAddress(channel Channel, address string) string {
	address = strings.TrimSpace(address)
	switch channel {
	case ChannelEmail:
		return strings.ToLower(address)
	case ChannelSMS, ChannelWhatsApp:
		return SanitizePhone(address)
	default:
		return address
	}
}

// ValidAddress reports whether address is well formed for channel.
func ValidAddress(channel Channel, address string) bool {
	switch channel {
	case ChannelEmail:
		return emailPattern.MatchString(address)
	case ChannelSMS, ChannelWhatsApp:
		return phonePattern.MatchString(address)
	case ChannelPush:
		return strings.TrimSpace(address) != ""
	}
	return false
}

// SanitizePhone strips formatting and returns an E.164-style number.
// Ten digit numbers without a country code are treated as North American.
func SanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if len(cleaned) == 10 {
		return "+1" + cleaned
	}
	return "+" + cleaned
}

// ValidateScheduledAt rejects times in the past or more than a year ahead.
func ValidateScheduledAt(at, now time.Time) error {
	if !at.After(now) {
		return ErrScheduleInPast
	}
	if at.After(now.Add(MaxScheduleAhead)) {
		return ErrScheduleTooFar
	}
	return nil
}
