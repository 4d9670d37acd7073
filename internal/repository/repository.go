package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/vitals-risk-worker/internal/db"
)

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assignmentColumns = `
	a.id, a.wristband_id, a.patient_id, p.threshold_profile, a.start_date, a.end_date
`

func scanAssignment(row pgx.Row) (*db.Assignment, error) {
	var a db.Assignment
	err := row.Scan(&a.ID, &a.DeviceID, &a.PatientID, &a.ThresholdProfile, &a.StartDate, &a.EndDate)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAssignmentByDevice returns the open assignment of a device
func (r *Repository) ActiveAssignmentByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM wristband_assignments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.wristband_id = $1 AND a.end_date IS NULL
	`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active assignment: %w", err)
	}
	return a, nil
}

// AssignmentByID returns an assignment whether open or closed
func (r *Repository) AssignmentByID(ctx context.Context, id int64) (*db.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM wristband_assignments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1
	`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	return a, nil
}

// ListActiveAssignments returns every open assignment
func (r *Repository) ListActiveAssignments(ctx context.Context) ([]db.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM wristband_assignments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.end_date IS NULL
		ORDER BY a.wristband_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active assignments: %w", err)
	}
	defer rows.Close()

	var assignments []db.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return assignments, nil
}

// CreateAssignment opens an assignment. It fails with db.ErrConflict when the
// device or the patient already has one open.
func (r *Repository) CreateAssignment(ctx context.Context, deviceID, patientID int64) (*db.Assignment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var profile string
	err = tx.QueryRow(ctx, `SELECT threshold_profile FROM patients WHERE id = $1`, patientID).Scan(&profile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", patientID, db.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patient: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO wristbands (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to register wristband: %w", err)
	}

	a := db.Assignment{DeviceID: deviceID, PatientID: patientID, ThresholdProfile: profile}
	err = tx.QueryRow(ctx, `
		INSERT INTO wristband_assignments (wristband_id, patient_id, start_date)
		VALUES ($1, $2, $3)
		RETURNING id, start_date
	`, deviceID, patientID, time.Now()).Scan(&a.ID, &a.StartDate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, db.ErrConflict
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &a, nil
}

// CloseAssignment sets end_date on the open assignment of a device
func (r *Repository) CloseAssignment(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	query := `
		WITH closed AS (
			UPDATE wristband_assignments
			SET end_date = $2
			WHERE wristband_id = $1 AND end_date IS NULL
			RETURNING id, wristband_id, patient_id, start_date, end_date
		)
		SELECT closed.id, closed.wristband_id, closed.patient_id, p.threshold_profile, closed.start_date, closed.end_date
		FROM closed
		JOIN patients p ON p.id = closed.patient_id
	`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, deviceID, time.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close assignment: %w", err)
	}
	return a, nil
}

// InsertMeasurement appends one measurement row
func (r *Repository) InsertMeasurement(ctx context.Context, m *db.Measurement) error {
	query := `
		INSERT INTO vital_measurements (
			assignment_id, measured_at, heart_rate, spo2,
			temperature, motion, battery_level, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		m.AssignmentID,
		m.MeasuredAt,
		m.HeartRate,
		m.SpO2,
		m.Temperature,
		m.Motion,
		m.BatteryLevel,
		m.RawPayload,
	).Scan(&m.ID)

	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	return nil
}

// InsertAlert persists an alert and sets its id
func (r *Repository) InsertAlert(ctx context.Context, a *db.Alert) error {
	query := `
		INSERT INTO alerts (
			assignment_id, generated_at, alert_type, severity, status,
			threshold_profile, metric, value, description, full_description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		a.AssignmentID,
		a.GeneratedAt,
		a.AlertType,
		a.Severity,
		a.Status,
		a.ThresholdProfile,
		a.Metric,
		a.Value,
		a.Description,
		a.FullDescription,
	).Scan(&a.ID)

	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

const alertColumns = `
	al.id, al.assignment_id, a.wristband_id, a.patient_id, al.generated_at,
	al.acknowledged_at, al.reviewed_at, al.reviewed_by, al.clinical_note,
	al.alert_type, al.severity, al.status, al.threshold_profile,
	al.metric, al.value, al.description, al.full_description
`

func scanAlert(row pgx.Row) (*db.Alert, error) {
	var al db.Alert
	err := row.Scan(
		&al.ID,
		&al.AssignmentID,
		&al.DeviceID,
		&al.PatientID,
		&al.GeneratedAt,
		&al.AcknowledgedAt,
		&al.ReviewedAt,
		&al.ReviewedBy,
		&al.ClinicalNote,
		&al.AlertType,
		&al.Severity,
		&al.Status,
		&al.ThresholdProfile,
		&al.Metric,
		&al.Value,
		&al.Description,
		&al.FullDescription,
	)
	if err != nil {
		return nil, err
	}
	return &al, nil
}

// GetAlert loads one alert
func (r *Repository) GetAlert(ctx context.Context, id int64) (*db.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts al
		JOIN wristband_assignments a ON a.id = al.assignment_id
		WHERE al.id = $1
	`

	al, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return al, nil
}

// AcknowledgeAlert moves an alert from one status to the next and stamps
// the review fields. It returns db.ErrNoRows when the alert is no longer
// in the expected status.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id int64, from, to string, reviewedBy, note *string, at time.Time) error {
	query := `
		UPDATE alerts
		SET status = $3, acknowledged_at = $4, reviewed_at = $4, reviewed_by = $5, clinical_note = $6
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, to, at, reviewedBy, note)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNoRows
	}
	return nil
}

// ListAlerts returns the most recent alerts first
func (r *Repository) ListAlerts(ctx context.Context, limit int) ([]db.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts al
		JOIN wristband_assignments a ON a.id = al.assignment_id
		ORDER BY al.generated_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []db.Alert{}
	for rows.Next() {
		al, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *al)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return alerts, nil
}

// Overview computes the dashboard counters. Active alerts are those not yet
// acknowledged; patients in risk have at least one of them on an open assignment.
func (r *Repository) Overview(ctx context.Context, lowBatteryPercent float64, recent int) (*db.Overview, error) {
	query := `
		SELECT
			(SELECT count(*) FROM wristband_assignments WHERE end_date IS NULL),
			(SELECT count(DISTINCT patient_id) FROM wristband_assignments WHERE end_date IS NULL),
			(SELECT count(*) FROM alerts WHERE status = 'JUST_GENERATED'),
			(SELECT count(DISTINCT a.patient_id)
				FROM alerts al
				JOIN wristband_assignments a ON a.id = al.assignment_id
				WHERE a.end_date IS NULL AND al.status = 'JUST_GENERATED'),
			(SELECT count(*) FROM (
				SELECT DISTINCT ON (m.assignment_id) m.battery_level
				FROM vital_measurements m
				JOIN wristband_assignments a ON a.id = m.assignment_id
				WHERE a.end_date IS NULL AND m.battery_level IS NOT NULL
				ORDER BY m.assignment_id, m.measured_at DESC
			) latest WHERE latest.battery_level < $1)
	`

	var o db.Overview
	err := r.pool.QueryRow(ctx, query, lowBatteryPercent).Scan(
		&o.ActiveDevices,
		&o.PatientsMonitored,
		&o.ActiveAlerts,
		&o.PatientsInRisk,
		&o.LowBatteryDevices,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query overview: %w", err)
	}

	o.RecentAlerts, err = r.ListAlerts(ctx, recent)
	if err != nil {
		return nil, err
	}
	o.LastUpdate = time.Now().UTC()

	return &o, nil
}
