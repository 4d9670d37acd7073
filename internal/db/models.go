package db

import (
	"errors"
	"time"
)

// ErrNoRows is returned by repository lookups that match nothing
var ErrNoRows = errors.New("no rows in result set")

// ErrConflict is returned when a write would break the one-active-assignment rule
var ErrConflict = errors.New("conflicting active assignment")

// Assignment binds a device to a patient over [StartDate, EndDate)
type Assignment struct {
	ID               int64      `json:"assignment_id"`
	DeviceID         int64      `json:"device_id"`
	PatientID        int64      `json:"patient_id"`
	ThresholdProfile string     `json:"threshold_profile"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

// Active reports whether the assignment is still open
func (a *Assignment) Active() bool {
	return a.EndDate == nil
}

// Measurement is one vitals sample bound to the assignment active when it was taken
type Measurement struct {
	ID           int64     `json:"measurement_id"`
	AssignmentID int64     `json:"assignment_id"`
	MeasuredAt   time.Time `json:"measured_at"`
	HeartRate    *float64  `json:"heart_rate"`
	SpO2         *float64  `json:"spo2"`
	Temperature  *float64  `json:"temperature"`
	Motion       *float64  `json:"motion"`
	BatteryLevel *float64  `json:"battery_level"`
	RawPayload   []byte    `json:"-"`
}

// Alert is the persisted, reviewable outcome of a risk event
type Alert struct {
	ID               int64      `json:"alert_id"`
	AssignmentID     int64      `json:"assignment_id"`
	DeviceID         int64      `json:"device_id"`
	PatientID        int64      `json:"patient_id"`
	GeneratedAt      time.Time  `json:"generated_at"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at"`
	ReviewedAt       *time.Time `json:"reviewed_at"`
	ReviewedBy       *string    `json:"reviewed_by"`
	ClinicalNote     *string    `json:"clinical_note"`
	AlertType        string     `json:"alert_type"`
	Severity         string     `json:"severity"`
	Status           string     `json:"status"`
	ThresholdProfile string     `json:"threshold_profile"`
	Metric           string     `json:"metric"`
	Value            float64    `json:"value"`
	Description      string     `json:"description"`
	FullDescription  string     `json:"full_description"`
}

// Overview is the dashboard summary
type Overview struct {
	ActiveDevices     int       `json:"active_devices"`
	PatientsMonitored int       `json:"patients_monitored"`
	ActiveAlerts      int       `json:"active_alerts"`
	PatientsInRisk    int       `json:"patients_in_risk"`
	LowBatteryDevices int       `json:"low_battery_devices"`
	LastUpdate        time.Time `json:"last_update"`
	RecentAlerts      []Alert   `json:"recent_alerts"`
}
