package dedup

import (
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

var testSecret = []byte("test-dedup-secret")

func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	a := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", at, testSecret)
	b := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", at, testSecret)
	if a != b {
		t.Fatalf("identical inputs produced different keys: %q vs %q", a, b)
	}
}

func TestDeriveDiffersPerInput(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	base := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", at, testSecret)

	variants := []string{
		Derive("cpu_alert", domain.ChannelEmail, "ops@example.com", at, testSecret),
		Derive("dd_alert", domain.ChannelSMS, "ops@example.com", at, testSecret),
		Derive("dd_alert", domain.ChannelEmail, "noc@example.com", at, testSecret),
		Derive("dd_alert", domain.ChannelEmail, "ops@example.com", at.Add(time.Hour), testSecret),
		Derive("dd_alert", domain.ChannelEmail, "ops@example.com", at, []byte("other-secret")),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base key %q", i, base)
		}
	}
}

func TestDeriveHourBucketCollapse(t *testing.T) {
	t.Parallel()

	first := time.Date(2026, 8, 30, 10, 0, 1, 0, time.UTC)
	second := time.Date(2026, 8, 30, 10, 59, 59, 0, time.UTC)
	nextHour := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

	a := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", first, testSecret)
	b := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", second, testSecret)
	c := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", nextHour, testSecret)

	if a != b {
		t.Fatalf("same-hour triggers should collapse: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("next-hour trigger should not collapse: %q", c)
	}
}

func TestDeriveKeyFormat(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	key := Derive("dd_alert", domain.ChannelWebhook, "https://hooks.example.com/x", at, testSecret)

	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		t.Fatalf("key %q should have 4 segments, got %d", key, len(parts))
	}
	if parts[0] != "dd_alert" || parts[1] != "WEBHOOK" {
		t.Fatalf("key prefix = %s:%s, want dd_alert:WEBHOOK", parts[0], parts[1])
	}
	if len(parts[2]) != recipientHashLen {
		t.Fatalf("recipient hash segment length = %d, want %d", len(parts[2]), recipientHashLen)
	}
	if parts[2] == "https" || strings.Contains(key, "hooks.example.com") {
		t.Fatal("raw recipient must not leak into the key")
	}
	if parts[3] != "2026083010" {
		t.Fatalf("hour bucket = %s, want 2026083010", parts[3])
	}
}

func TestDeriveBucketsInUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 8, 30, 13, 30, 0, 0, loc)
	utc := local.UTC()

	a := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", local, testSecret)
	b := Derive("dd_alert", domain.ChannelEmail, "ops@example.com", utc, testSecret)
	if a != b {
		t.Fatalf("zone-equivalent instants should produce one key: %q vs %q", a, b)
	}
}
