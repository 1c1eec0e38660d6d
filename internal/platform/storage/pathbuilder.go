package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const shiftReportRoot = "reports/stations"

var errUnsafeSegment = errors.New("must be a single path segment")

// ShiftReportPath lays reports out by station and close date so a day's shifts list together:
// reports/stations/{station}/shifts/YYYY/MM/DD/{shift}.json
func ShiftReportPath(stationID, shiftID string, closedAt time.Time) (string, error) {
	if closedAt.IsZero() {
		return "", errors.New("storage: close date is required")
	}
	station, err := segment("station id", stationID)
	if err != nil {
		return "", err
	}
	shift, err := segment("shift id", shiftID)
	if err != nil {
		return "", err
	}
	return path.Join(shiftReportRoot, station, "shifts", closedAt.UTC().Format("2006/01/02"), shift+".json"), nil
}

func segment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case value == "." || strings.Contains(value, ".."), strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s %q %w", name, value, errUnsafeSegment)
	}
	return value, nil
}
