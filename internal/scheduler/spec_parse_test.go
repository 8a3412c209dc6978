package scheduler

import (
	"testing"
	"time"
)

func TestParseTickSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:@hourly", kind: SpecCron, cron: "@hourly"},
		{name: "at sign", raw: "@every 55m", kind: SpecCron, cron: "@every 55m"},
		{name: "duration", raw: "10m", kind: SpecInterval, duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, duration: 45 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTickSpec(tt.raw)
			if err != nil {
				t.Fatalf("ParseTickSpec(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseTickSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-spec", "interval:-5s", "cron:"} {
		if _, err := ParseTickSpec(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
