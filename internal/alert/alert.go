package alert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/septivank/vitals-risk-worker/internal/threshold"
)

var (
	// ErrNotFound is returned for an unknown alert id
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when a status change skips or reverses a step
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Status is the review lifecycle of an alert
type Status string

const (
	JustGenerated      Status = "JUST_GENERATED"
	Acknowledged       Status = "ACKNOWLEDGED"
	ClinicallyAssessed Status = "CLINICALLY_ASSESSED"
	Closed             Status = "CLOSED"
)

// lifecycle lists statuses in order; only a step to the next one is legal
var lifecycle = []Status{JustGenerated, Acknowledged, ClinicallyAssessed, Closed}

// Next returns the status that follows s, false for CLOSED or unknown values
func (s Status) Next() (Status, bool) {
	for i, st := range lifecycle {
		if st == s && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a single forward step
func CanTransition(from, to Status) bool {
	next, ok := from.Next()
	return ok && next == to
}

// Transition validates a status change
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

var alertTypes = map[threshold.Metric]string{
	threshold.HeartRate:    "HR",
	threshold.SpO2:         "SPO2",
	threshold.Temperature:  "TEMPERATURE",
	threshold.Motion:       "MOTION",
	threshold.BatteryLevel: "BATTERY",
}

// Type classifies an alert by the metric that raised it
func Type(metric threshold.Metric) string {
	if t, ok := alertTypes[metric]; ok {
		return t
	}
	return strings.ToUpper(string(metric))
}

// Describe builds the short and long alert texts
func Describe(metric threshold.Metric, severity threshold.Severity, deviceID int64, value float64) (string, string) {
	label := metric.Label()

	short := fmt.Sprintf("%s above %s threshold", label, severity)

	full := fmt.Sprintf(
		"The %s recorded from wristband WB-%d was %s, which exceeds the %s threshold and may require immediate medical attention.",
		strings.ToLower(label), deviceID, strconv.FormatFloat(value, 'f', -1, 64), severity,
	)

	return short, full
}
