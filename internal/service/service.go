package service

import (
	"context"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/snapshot"
)

// Publisher publishes JSON events on the topic exchange
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Resolver maps a device to its active assignment
type Resolver interface {
	Resolve(ctx context.Context, deviceID int64) (assignment.Assignment, error)
}

// Invalidator drops cached assignments
type Invalidator interface {
	Invalidate(deviceID int64)
}

// MeasurementStore persists measurements
type MeasurementStore interface {
	InsertMeasurement(ctx context.Context, m *db.Measurement) error
}

// AlertStore persists and reads alerts
type AlertStore interface {
	AssignmentByID(ctx context.Context, id int64) (*db.Assignment, error)
	InsertAlert(ctx context.Context, a *db.Alert) error
	GetAlert(ctx context.Context, id int64) (*db.Alert, error)
	AcknowledgeAlert(ctx context.Context, id int64, from, to string, reviewedBy, note *string, at time.Time) error
	ListAlerts(ctx context.Context, limit int) ([]db.Alert, error)
}

// OverviewStore computes dashboard counters
type OverviewStore interface {
	Overview(ctx context.Context, lowBatteryPercent float64, recent int) (*db.Overview, error)
}

// AssignmentStore writes and lists assignments
type AssignmentStore interface {
	ActiveAssignmentByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error)
	ListActiveAssignments(ctx context.Context) ([]db.Assignment, error)
	CreateAssignment(ctx context.Context, deviceID, patientID int64) (*db.Assignment, error)
	CloseAssignment(ctx context.Context, deviceID int64) (*db.Assignment, error)
}

// SnapshotWriter stores the latest vitals of a patient
type SnapshotWriter interface {
	Put(ctx context.Context, snap *snapshot.Snapshot) error
}

// Notice types sent on the coarse alert hub
const (
	NoticeAlertCreated      = "alert_created"
	NoticeAlertAcknowledged = "alert_acknowledged"
)

// AlertNotice tells dashboards to re-fetch alerts. It carries no alert body.
type AlertNotice struct {
	Type string `json:"type"`
}
