package timeparser

import (
	"fmt"
	"time"
)

// ParseMeasuredAt parses a device timestamp. Devices send ISO-8601, with or
// without a zone; a missing zone is read as UTC.
func ParseMeasuredAt(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,             // 2025-01-02T15:04:05.123Z
		"2006-01-02T15:04:05.999999", // isoformat() without zone
		"2006-01-02 15:04:05.999999", // space separated
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
