package validator

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/septivank/vitals-risk-worker/tools/timeparser"
)

// ErrInvalidMessage marks payloads that can never be processed. Consumers
// reject them without requeue.
var ErrInvalidMessage = errors.New("invalid message")

// Invalid builds an error wrapping ErrInvalidMessage
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// Validator checks inbound messages against the configured timestamp window
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance.
// A tolerance of zero disables the window check.
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// Timestamp parses a measured_at value and checks it against receivedAt
func (v *Validator) Timestamp(raw string, receivedAt time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, Invalid("missing measured_at")
	}

	readingTime, err := timeparser.ParseMeasuredAt(raw)
	if err != nil {
		return time.Time{}, Invalid("invalid timestamp format: %v", err)
	}

	if v == nil || v.timestampToleranceMinutes <= 0 {
		return readingTime, nil
	}
	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		return readingTime, Invalid("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes)
	}

	return readingTime, nil
}

// ID requires a positive integer identifier
func ID(field string, id int64) error {
	if id <= 0 {
		return Invalid("%s must be a positive integer, got %d", field, id)
	}
	return nil
}

// Required rejects blank strings
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Invalid("missing %s", field)
	}
	return nil
}

// Value checks an optional reading. Nil passes; NaN, infinities and values
// outside [lo, hi] do not.
func Value(field string, value *float64, lo, hi float64) error {
	if value == nil {
		return nil
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Invalid("%s is not a finite number", field)
	}
	if v < 0 && lo >= 0 {
		return Invalid("negative value detected for %s", field)
	}
	if v < lo || v > hi {
		return Invalid("%s out of range [%g, %g]: %g", field, lo, hi, v)
	}
	return nil
}
