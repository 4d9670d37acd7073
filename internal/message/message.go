package message

import (
	"encoding/json"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/septivank/vitals-risk-worker/internal/validator"
)

// VitalsMessage is one measurement published on vitals.<device_id>
type VitalsMessage struct {
	DeviceID     int64    `json:"device_id"`
	WristbandID  int64    `json:"wristband_id,omitempty"`
	MeasuredAt   string   `json:"measured_at"`
	HeartRate    *float64 `json:"heart_rate"`
	SpO2         *float64 `json:"spo2"`
	Temperature  *float64 `json:"temperature"`
	Motion       *float64 `json:"motion"`
	BatteryLevel *float64 `json:"battery_level"`

	measuredAt time.Time
}

type bound struct {
	lo, hi float64
}

// physical bounds, not clinical thresholds
var vitalsBounds = map[threshold.Metric]bound{
	threshold.HeartRate:    {0, 300},
	threshold.SpO2:         {0, 100},
	threshold.Temperature:  {20, 50},
	threshold.Motion:       {0, 1000},
	threshold.BatteryLevel: {0, 100},
}

// DecodeVitals parses and validates a measurement body
func DecodeVitals(body []byte, v *validator.Validator, receivedAt time.Time) (*VitalsMessage, error) {
	var msg VitalsMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, validator.Invalid("failed to unmarshal vitals: %v", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	ts, err := v.Timestamp(msg.MeasuredAt, receivedAt)
	if err != nil {
		return nil, err
	}
	msg.measuredAt = ts
	return &msg, nil
}

// Validate checks the shape of the measurement. Older producers send
// wristband_id instead of device_id; it is folded into DeviceID.
func (m *VitalsMessage) Validate() error {
	if m.DeviceID == 0 {
		m.DeviceID = m.WristbandID
	}
	if err := validator.ID("device_id", m.DeviceID); err != nil {
		return err
	}
	if err := validator.Required("measured_at", m.MeasuredAt); err != nil {
		return err
	}
	for metric, value := range m.values() {
		b := vitalsBounds[metric]
		if err := validator.Value(string(metric), value, b.lo, b.hi); err != nil {
			return err
		}
	}
	return nil
}

func (m *VitalsMessage) values() map[threshold.Metric]*float64 {
	return map[threshold.Metric]*float64{
		threshold.HeartRate:    m.HeartRate,
		threshold.SpO2:         m.SpO2,
		threshold.Temperature:  m.Temperature,
		threshold.Motion:       m.Motion,
		threshold.BatteryLevel: m.BatteryLevel,
	}
}

// Reading returns the present metrics, nulls are left out
func (m *VitalsMessage) Reading() threshold.Reading {
	r := make(threshold.Reading, 5)
	for metric, value := range m.values() {
		if value != nil {
			r[metric] = *value
		}
	}
	return r
}

// Time returns the parsed measured_at, set by DecodeVitals
func (m *VitalsMessage) Time() time.Time {
	return m.measuredAt
}

// RiskEventMessage is published on risk.<device_id> when a measurement breaches
type RiskEventMessage struct {
	EventID          string             `json:"event_id"`
	DeviceID         int64              `json:"device_id"`
	AssignmentID     int64              `json:"assignment_id,omitempty"`
	PatientID        int64              `json:"patient_id,omitempty"`
	Severity         threshold.Severity `json:"severity"`
	Metric           threshold.Metric   `json:"metric"`
	Value            float64            `json:"value"`
	ThresholdProfile threshold.Profile  `json:"threshold_profile"`
	MeasuredAt       string             `json:"measured_at,omitempty"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// DecodeRiskEvent parses and validates a risk event body
func DecodeRiskEvent(body []byte) (*RiskEventMessage, error) {
	var msg RiskEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, validator.Invalid("failed to unmarshal risk event: %v", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate requires severity, metric and a way to find the assignment
func (m *RiskEventMessage) Validate() error {
	if err := validator.Required("severity", string(m.Severity)); err != nil {
		return err
	}
	severity, err := threshold.ParseSeverity(string(m.Severity))
	if err != nil {
		return validator.Invalid("%v", err)
	}
	if severity == threshold.Normal {
		return validator.Invalid("risk event with NORMAL severity")
	}
	m.Severity = severity

	if err := validator.Required("metric", string(m.Metric)); err != nil {
		return err
	}
	metric, err := threshold.ParseMetric(string(m.Metric))
	if err != nil {
		return validator.Invalid("%v", err)
	}
	m.Metric = metric

	if m.AssignmentID <= 0 && m.DeviceID <= 0 {
		return validator.Invalid("missing assignment_id and device_id")
	}
	if m.ThresholdProfile != "" {
		profile, err := threshold.ParseProfile(string(m.ThresholdProfile))
		if err != nil {
			return validator.Invalid("%v", err)
		}
		m.ThresholdProfile = profile
	}
	return nil
}

// AlertMessage is the enriched alert published on alerts.final
type AlertMessage struct {
	AlertID          int64              `json:"alert_id"`
	AssignmentID     int64              `json:"assignment_id"`
	DeviceID         int64              `json:"device_id"`
	PatientID        int64              `json:"patient_id,omitempty"`
	EventID          string             `json:"event_id,omitempty"`
	AlertType        string             `json:"alert_type"`
	Severity         threshold.Severity `json:"severity"`
	Status           string             `json:"status"`
	Metric           threshold.Metric   `json:"metric"`
	Value            float64            `json:"value"`
	ThresholdProfile threshold.Profile  `json:"threshold_profile"`
	Description      string             `json:"description"`
	FullDescription  string             `json:"full_description"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// Validate requires the identity fields downstream readers rely on
func (m *AlertMessage) Validate() error {
	if err := validator.ID("alert_id", m.AlertID); err != nil {
		return err
	}
	if err := validator.ID("assignment_id", m.AssignmentID); err != nil {
		return err
	}
	if err := validator.Required("severity", string(m.Severity)); err != nil {
		return err
	}
	return validator.Required("metric", string(m.Metric))
}

// Assignment change actions
const (
	ActionAssigned   = "assigned"
	ActionUnassigned = "unassigned"
)

// AssignmentChangedMessage is published on assignments.changed.<device_id>
type AssignmentChangedMessage struct {
	DeviceID     int64     `json:"device_id"`
	AssignmentID int64     `json:"assignment_id"`
	PatientID    int64     `json:"patient_id"`
	Action       string    `json:"action"`
	ChangedAt    time.Time `json:"changed_at"`
}

// DecodeAssignmentChanged parses and validates a change notification
func DecodeAssignmentChanged(body []byte) (*AssignmentChangedMessage, error) {
	var msg AssignmentChangedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, validator.Invalid("failed to unmarshal assignment change: %v", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate requires a device id and a known action
func (m *AssignmentChangedMessage) Validate() error {
	if err := validator.ID("device_id", m.DeviceID); err != nil {
		return err
	}
	switch m.Action {
	case ActionAssigned, ActionUnassigned:
		return nil
	}
	return validator.Invalid("unknown assignment action %q", m.Action)
}
