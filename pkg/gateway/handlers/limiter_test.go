package handlers

import (
	"testing"
	"time"
)

func TestInboundLimiter_AllowsWithinBurstThenDenies(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 100, 2) // 200 byte burst
	if !lim.Allow(150) {
		t.Fatalf("expected allow 150 bytes")
	}
	if lim.Allow(60) {
		t.Fatalf("expected deny 60 bytes once tokens exhausted")
	}
	if !lim.Allow(50) {
		t.Fatalf("expected allow 50 bytes from the remainder")
	}
}

func TestInboundLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 1000, 1) // 1000 byte burst
	if !lim.Allow(1000) {
		t.Fatalf("expected allow at full burst")
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny with empty bucket")
	}

	now = now.Add(100 * time.Millisecond) // refills 100 bytes
	if !lim.Allow(100) {
		t.Fatalf("expected allow after refill")
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny again without more time")
	}
}

func TestInboundLimiter_CapsAtBurst(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 100, 2)
	now = now.Add(time.Hour)
	if !lim.Allow(200) {
		t.Fatalf("expected full burst after idle hour")
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny beyond the burst cap")
	}
}

func TestInboundLimiter_NilAllowsEverything(t *testing.T) {
	lim := newInboundLimiter(nil, 0, 2)
	if lim != nil {
		t.Fatalf("expected nil limiter when rate is zero")
	}
	if !lim.Allow(1 << 30) {
		t.Fatalf("nil limiter should allow everything")
	}
}
