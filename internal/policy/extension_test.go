package policy

import (
	"net"
	"testing"
	"time"
)

func TestParseExtensionRoundTrip(t *testing.T) {
	cases := []string{
		"192.168.0.0/16,,,",
		"!10.0.0.0/8,08:00 +0300,17:30 +0300,2030-01-01 00:00:00 +0300",
		",,,",
	}
	for _, s := range cases {
		ext, err := ParseExtension(s)
		if err != nil {
			t.Fatalf("ParseExtension(%q): %v", s, err)
		}
		if got := ext.String(); got != s {
			t.Errorf("format(parse(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestParseExtensionRejectsMismatchedTimeFields(t *testing.T) {
	if _, err := ParseExtension("192.168.0.0/16,08:00 +0300,,"); err == nil {
		t.Fatal("expected error for start without end")
	}
	if _, err := ParseExtension("192.168.0.0/16,08:00 +0300,17:00 +0000,"); err == nil {
		t.Fatal("expected error for mismatched offsets")
	}
}

func TestExtensionIPAllowDeny(t *testing.T) {
	ext, err := ParseExtension("10.0.0.0/8,,,")
	if err != nil {
		t.Fatal(err)
	}
	if !ext.Accepts(Env{IP: net.ParseIP("10.0.0.5"), Now: time.Now()}) {
		t.Error("expected allow for in-CIDR IP")
	}
	if ext.Accepts(Env{IP: net.ParseIP("192.168.1.1"), Now: time.Now()}) {
		t.Error("expected deny for out-of-CIDR IP")
	}
	if ext.Accepts(Env{IP: nil, Now: time.Now()}) {
		t.Error("missing client IP with present policy must deny")
	}

	deny, err := ParseExtension("!10.0.0.0/8,,,")
	if err != nil {
		t.Fatal(err)
	}
	if deny.Accepts(Env{IP: net.ParseIP("10.0.0.5"), Now: time.Now()}) {
		t.Error("expected deny for in-CIDR IP under deny policy")
	}
	if !deny.Accepts(Env{IP: net.ParseIP("192.168.1.1"), Now: time.Now()}) {
		t.Error("expected allow for out-of-CIDR IP under deny policy")
	}
}

func TestExtensionDailyWindowHalfOpen(t *testing.T) {
	ext, err := ParseExtension(",08:00 +0300,17:30 +0300,")
	if err != nil {
		t.Fatal(err)
	}
	loc := time.FixedZone("", 3*3600)

	start := time.Date(2026, 1, 1, 8, 0, 0, 0, loc)
	if !ext.Accepts(Env{Now: start}) {
		t.Error("equality at start must accept (half-open at start)")
	}
	end := time.Date(2026, 1, 1, 17, 30, 0, 0, loc)
	if ext.Accepts(Env{Now: end}) {
		t.Error("equality at end must reject")
	}
}

func TestExtensionDailyWindowWraps(t *testing.T) {
	ext, err := ParseExtension(",22:00 +0000,02:00 +0000,")
	if err != nil {
		t.Fatal(err)
	}
	loc := time.FixedZone("", 0)
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, loc)
	early := time.Date(2026, 1, 1, 1, 0, 0, 0, loc)
	mid := time.Date(2026, 1, 1, 12, 0, 0, 0, loc)
	if !ext.Accepts(Env{Now: late}) || !ext.Accepts(Env{Now: early}) {
		t.Error("expected wrap-around window to accept late/early times")
	}
	if ext.Accepts(Env{Now: mid}) {
		t.Error("expected wrap-around window to reject midday")
	}
}

func TestExtensionExpiry(t *testing.T) {
	ext, err := ParseExtension(",,,2030-01-01 00:00:00 +0300")
	if err != nil {
		t.Fatal(err)
	}
	loc := time.FixedZone("", 3*3600)
	before := time.Date(2029, 1, 1, 0, 0, 0, 0, loc)
	after := time.Date(2031, 1, 1, 0, 0, 0, 0, loc)
	if !ext.Accepts(Env{Now: before}) {
		t.Error("expected accept before expiry")
	}
	if ext.Accepts(Env{Now: after}) {
		t.Error("expected deny after expiry")
	}
}
