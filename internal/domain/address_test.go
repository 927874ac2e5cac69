package domain

import (
	"errors"
	"testing"
	"time"
)

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		channel Channel
		record  map[string]any
		want    string
		wantOK  bool
	}{
		{name: "email lowercase key", channel: ChannelEmail, record: map[string]any{"email": "A@Example.com"}, want: "a@example.com", wantOK: true},
		{name: "email capitalised key", channel: ChannelEmail, record: map[string]any{"Email": "b@example.com"}, want: "b@example.com", wantOK: true},
		{name: "email missing", channel: ChannelEmail, record: map[string]any{"phone": "+15551234567"}, wantOK: false},
		{name: "email invalid", channel: ChannelEmail, record: map[string]any{"email": "not-an-email"}, wantOK: false},
		{name: "sms sanitised", channel: ChannelSMS, record: map[string]any{"phone": "(555) 123-4567"}, want: "+15551234567", wantOK: true},
		{name: "sms too short", channel: ChannelSMS, record: map[string]any{"Phone": "12345"}, wantOK: false},
		{name: "push token", channel: ChannelPush, record: map[string]any{"Device_Token": "tok-1"}, want: "tok-1", wantOK: true},
		{name: "whatsapp falls back to phone", channel: ChannelWhatsApp, record: map[string]any{"phone": "+905551112233"}, want: "+905551112233", wantOK: true},
		{name: "whatsapp prefers whatsapp", channel: ChannelWhatsApp, record: map[string]any{"whatsapp": "+905551112299", "phone": "+905551112233"}, want: "+905551112299", wantOK: true},
		{name: "blank value skipped", channel: ChannelWhatsApp, record: map[string]any{"whatsapp": " ", "WhatsApp": "+905551112244"}, want: "+905551112244", wantOK: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ExtractAddress(tt.channel, tt.record)
			if ok != tt.wantOK {
				t.Fatalf("ExtractAddress() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("ExtractAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizePhone(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"5551234567":        "+15551234567",
		"905551112233":      "+905551112233",
		"+90 555 111 22 33": "+905551112233",
		"":                  "",
	}
	for in, want := range tests {
		if got := SanitizePhone(in); got != want {
			t.Fatalf("SanitizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	got := RenderTemplate("Hi {name}, code {code}. {missing} stays", map[string]any{
		"name": "Ada",
		"code": 42,
	})
	want := "Hi Ada, code 42. {missing} stays"
	if got != want {
		t.Fatalf("RenderTemplate() = %q, want %q", got, want)
	}

	nested := RenderTemplate("{a}", map[string]any{"a": "{b}", "b": "x"})
	if nested != "{b}" {
		t.Fatalf("RenderTemplate() should not recurse, got %q", nested)
	}
}

func TestValidateScheduledAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := ValidateScheduledAt(now.Add(time.Hour), now); err != nil {
		t.Fatalf("future time: unexpected error %v", err)
	}
	if err := ValidateScheduledAt(now, now); !errors.Is(err, ErrScheduleInPast) {
		t.Fatalf("now: error = %v, want ErrScheduleInPast", err)
	}
	if err := ValidateScheduledAt(now.Add(366*24*time.Hour), now); !errors.Is(err, ErrValidation) {
		t.Fatalf("too far: error = %v, want ErrValidation", err)
	}
}
