package handlers

import (
	"testing"
	"time"
)

func TestStationLimiterRefills(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	l := newStationLimiter(2, time.Second, func() time.Time { return now })

	if !l.Allow("lane-1") || !l.Allow("lane-1") {
		t.Fatal("expected burst of two to pass")
	}
	if l.Allow("lane-1") {
		t.Fatal("expected third scan in the same instant to be throttled")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("lane-1") {
		t.Fatal("expected one token back after half a window")
	}
	if l.Allow("lane-1") {
		t.Fatal("expected bucket empty again")
	}
}

func TestStationLimiterEvictsIdleStations(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	l := newStationLimiter(1, time.Second, func() time.Time { return now }).(*stationLimiter)

	l.Allow("lane-1")
	now = now.Add(2 * time.Second)
	l.Allow("lane-2")

	if _, ok := l.buckets["lane-1"]; ok {
		t.Fatal("expected idle lane-1 bucket evicted")
	}
	if len(l.buckets) != 1 {
		t.Fatalf("expected one bucket, got %d", len(l.buckets))
	}
}

func TestStationLimiterDisabled(t *testing.T) {
	if newStationLimiter(0, time.Second, nil) != nil {
		t.Fatal("expected nil limiter for zero burst")
	}
}
