package storage

import (
	"errors"
	"testing"
	"time"
)

func TestShiftReportPath(t *testing.T) {
	closed := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("PST", -8*3600))
	got, err := ShiftReportPath(" lane-1 ", "shift123", closed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the date is taken in UTC, which has already rolled over
	if want := "reports/stations/lane-1/shifts/2026/03/10/shift123.json"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestShiftReportPathRejectsUnsafeInput(t *testing.T) {
	now := time.Now()
	cases := map[string]struct {
		station, shift string
		at             time.Time
	}{
		"traversal":     {"../bad", "s1", now},
		"slash":         {"lane-1", "a/b", now},
		"backslash":     {`lane\1`, "s1", now},
		"empty station": {"", "s1", now},
		"zero date":     {"lane-1", "s1", time.Time{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ShiftReportPath(tc.station, tc.shift, tc.at); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := ShiftReportPath("lane-1", "..", now)
	if !errors.Is(err, errUnsafeSegment) {
		t.Fatalf("expected errUnsafeSegment, got %v", err)
	}
}
