package validator_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/validator"
)

const testTimestampToleranceMinutes = 5

func TestTimestamp_Valid(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)
	receivedAt := time.Date(2025, 12, 29, 10, 32, 0, 0, time.UTC)

	ts, err := v.Timestamp("2025-12-29T10:30:00Z", receivedAt)
	if err != nil {
		t.Fatalf("Expected valid timestamp, got %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)
	if !ts.Equal(expected) {
		t.Errorf("Expected timestamp %v, got %v", expected, ts)
	}
}

func TestTimestamp_OutsideTolerance(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)
	receivedAt := time.Date(2025, 12, 29, 11, 0, 0, 0, time.UTC)

	_, err := v.Timestamp("2025-12-29T10:30:00Z", receivedAt)
	if !errors.Is(err, validator.ErrInvalidMessage) {
		t.Fatalf("Expected ErrInvalidMessage, got %v", err)
	}
	if !strings.Contains(err.Error(), "tolerance") {
		t.Errorf("Expected tolerance reason, got '%s'", err.Error())
	}
}

func TestTimestamp_ZeroToleranceDisablesWindow(t *testing.T) {
	v := validator.NewValidator(0)
	receivedAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := v.Timestamp("2025-12-29T10:30:00Z", receivedAt); err != nil {
		t.Errorf("Expected no error with tolerance disabled, got %v", err)
	}
}

func TestTimestamp_Malformed(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	for _, raw := range []string{"", "   ", "yesterday"} {
		if _, err := v.Timestamp(raw, time.Now()); !errors.Is(err, validator.ErrInvalidMessage) {
			t.Errorf("Expected ErrInvalidMessage for %q, got %v", raw, err)
		}
	}
}

func TestValue(t *testing.T) {
	ptr := func(f float64) *float64 { return &f }

	tests := []struct {
		name    string
		value   *float64
		wantErr bool
	}{
		{"nil is allowed", nil, false},
		{"inside range", ptr(55), false},
		{"upper edge", ptr(100), false},
		{"above range", ptr(100.5), true},
		{"negative", ptr(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Value("battery_level", tt.value, 0, 100)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValue_NegativeReason(t *testing.T) {
	v := -10.5
	err := validator.Value("heart_rate", &v, 0, 300)
	if err == nil || !strings.Contains(err.Error(), "negative value detected") {
		t.Errorf("Expected 'negative value detected', got %v", err)
	}
}

func TestID(t *testing.T) {
	if err := validator.ID("device_id", 7); err != nil {
		t.Errorf("Expected valid id, got %v", err)
	}
	if err := validator.ID("device_id", 0); !errors.Is(err, validator.ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}
}
