package session

import (
	"testing"
	"time"
)

func TestParseDurationAccepted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "10s", want: 10 * time.Second},
		{raw: "1:30", want: 90 * time.Second},
		{raw: "01:02:03", want: time.Hour + 2*time.Minute + 3*time.Second},
		{raw: "1h30m", want: 90 * time.Minute},
		{raw: "2d 3h", want: 51 * time.Hour},
		{raw: "3h 2d", want: 51 * time.Hour},
		{raw: "  25 minutes ", want: 25 * time.Minute},
		{raw: "1 hour, 5 mins", want: 65 * time.Minute},
		{raw: "90 SECONDS", want: 90 * time.Second},
		{raw: "0s", want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseDuration(tt.raw)
			if !ok {
				t.Fatalf("ParseDuration(%q) rejected", tt.raw)
			}
			if got != tt.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationRejected(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"", "   ", "bogus", "invalid", "10", "1:2:3:4", "1:xx", ":30", "1h 2h",
		"5 parsecs", "10m and more", "99999999999999999999s",
	} {
		if got, ok := ParseDuration(raw); ok {
			t.Fatalf("ParseDuration(%q) = %v, want rejection", raw, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{65 * time.Second, "1m 5s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{26 * time.Hour, "1d 2h"},
		{1500 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseParticipants(t *testing.T) {
	t.Parallel()
	got := ParseParticipants("with <@123> <@!456>, @789 and 123 plus 42 bob")
	want := []string{"123", "456", "789", "42"}
	if len(got) != len(want) {
		t.Fatalf("ParseParticipants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseParticipants[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
