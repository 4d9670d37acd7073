package message_test

import (
	"testing"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)

func TestDecodeVitals(t *testing.T) {
	body := []byte(`{"device_id": 7, "measured_at": "2025-01-01T12:00:00", "heart_rate": 90, "spo2": null, "battery_level": 80}`)

	msg, err := message.DecodeVitals(body, validator.NewValidator(10), receivedAt)
	require.NoError(t, err)

	assert.Equal(t, int64(7), msg.DeviceID)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), msg.Time())
	assert.Equal(t, threshold.Reading{threshold.HeartRate: 90, threshold.BatteryLevel: 80}, msg.Reading())
}

func TestDecodeVitals_WristbandAlias(t *testing.T) {
	body := []byte(`{"wristband_id": 1, "measured_at": "2025-01-01T12:00:00", "heart_rate": 90}`)

	msg, err := message.DecodeVitals(body, validator.NewValidator(0), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.DeviceID)
}

func TestDecodeVitals_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"device_id": 7,`,
		"missing device":    `{"measured_at": "2025-01-01T12:00:00"}`,
		"missing timestamp": `{"device_id": 7}`,
		"bad timestamp":     `{"device_id": 7, "measured_at": "noon"}`,
		"battery over 100":  `{"device_id": 7, "measured_at": "2025-01-01T12:00:00", "battery_level": 101}`,
		"negative spo2":     `{"device_id": 7, "measured_at": "2025-01-01T12:00:00", "spo2": -3}`,
		"device as string":  `{"device_id": "seven", "measured_at": "2025-01-01T12:00:00"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := message.DecodeVitals([]byte(body), validator.NewValidator(0), receivedAt)
			assert.ErrorIs(t, err, validator.ErrInvalidMessage)
		})
	}
}

func TestDecodeRiskEvent_NormalizesNames(t *testing.T) {
	body := []byte(`{"device_id": 3, "severity": "critical", "metric": "Heart_Rate", "value": 130, "threshold_profile": "standard"}`)

	msg, err := message.DecodeRiskEvent(body)
	require.NoError(t, err)

	assert.Equal(t, threshold.Critical, msg.Severity)
	assert.Equal(t, threshold.HeartRate, msg.Metric)
	assert.Equal(t, threshold.Standard, msg.ThresholdProfile)
}

func TestDecodeRiskEvent_MissingFields(t *testing.T) {
	cases := map[string]string{
		"no severity":      `{"device_id": 3, "metric": "spo2", "value": 80}`,
		"no metric":        `{"device_id": 3, "severity": "WARNING", "value": 80}`,
		"normal severity":  `{"device_id": 3, "severity": "NORMAL", "metric": "spo2", "value": 80}`,
		"no identity":      `{"severity": "WARNING", "metric": "spo2", "value": 80}`,
		"unknown profile":  `{"device_id": 3, "severity": "WARNING", "metric": "spo2", "threshold_profile": "PEDIATRIC"}`,
		"unknown severity": `{"device_id": 3, "severity": "SEVERE", "metric": "spo2"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := message.DecodeRiskEvent([]byte(body))
			assert.ErrorIs(t, err, validator.ErrInvalidMessage)
		})
	}
}

func TestDecodeRiskEvent_AssignmentWithoutDevice(t *testing.T) {
	_, err := message.DecodeRiskEvent([]byte(`{"assignment_id": 12, "severity": "WARNING", "metric": "spo2", "value": 91}`))
	assert.NoError(t, err)
}

func TestDecodeAssignmentChanged(t *testing.T) {
	msg, err := message.DecodeAssignmentChanged([]byte(`{"device_id": 4, "assignment_id": 9, "action": "unassigned"}`))
	require.NoError(t, err)
	assert.Equal(t, message.ActionUnassigned, msg.Action)

	_, err = message.DecodeAssignmentChanged([]byte(`{"device_id": 4, "action": "moved"}`))
	assert.ErrorIs(t, err, validator.ErrInvalidMessage)
}

func TestAlertMessage_Validate(t *testing.T) {
	m := message.AlertMessage{AlertID: 1, AssignmentID: 2, Severity: threshold.Warning, Metric: threshold.SpO2}
	assert.NoError(t, m.Validate())

	m.AssignmentID = 0
	assert.ErrorIs(t, m.Validate(), validator.ErrInvalidMessage)
}
