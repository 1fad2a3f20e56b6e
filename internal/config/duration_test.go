package config

import (
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"  ", 0, true},
		{"30s", 30 * time.Second, true},
		{"1h30m", 90 * time.Minute, true},
		{"30", 30 * time.Second, true}, // bare number is seconds
		{"0", 0, true},
		{"-5s", 0, false},
		{"-5", 0, false},
		{"soon", 0, false},
	}
	for _, c := range cases {
		got, err := ParseDurationField("test.field", c.raw)
		if c.ok && err != nil {
			t.Errorf("ParseDurationField(%q) error: %v", c.raw, err)
			continue
		}
		if !c.ok {
			if err == nil {
				t.Errorf("ParseDurationField(%q) accepted, want error", c.raw)
			}
			continue
		}
		if got != c.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	got, err := ParseDurationOrDefault("test.field", "", 6*time.Hour)
	if err != nil || got != 6*time.Hour {
		t.Fatalf("unset field: got %v, %v", got, err)
	}
	got, err = ParseDurationOrDefault("test.field", "15m", 6*time.Hour)
	if err != nil || got != 15*time.Minute {
		t.Fatalf("set field: got %v, %v", got, err)
	}
	if _, err := ParseDurationOrDefault("test.field", "nope", time.Second); err == nil {
		t.Fatal("invalid field must not fall back to the default")
	}
}
