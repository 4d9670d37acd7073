package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup when auto-migrate is enabled.
// The partial unique indexes enforce one active assignment per device and per patient.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id                BIGSERIAL PRIMARY KEY,
		full_name         TEXT NOT NULL DEFAULT '',
		threshold_profile TEXT NOT NULL DEFAULT 'STANDARD',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wristbands (
		id         BIGINT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wristband_assignments (
		id          BIGSERIAL PRIMARY KEY,
		wristband_id BIGINT NOT NULL REFERENCES wristbands(id),
		patient_id  BIGINT NOT NULL REFERENCES patients(id),
		start_date  TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_date    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS wristband_assignments_active_device
		ON wristband_assignments (wristband_id) WHERE end_date IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS wristband_assignments_active_patient
		ON wristband_assignments (patient_id) WHERE end_date IS NULL`,
	`CREATE TABLE IF NOT EXISTS vital_measurements (
		id            BIGSERIAL PRIMARY KEY,
		assignment_id BIGINT NOT NULL REFERENCES wristband_assignments(id),
		measured_at   TIMESTAMPTZ NOT NULL,
		heart_rate    DOUBLE PRECISION,
		spo2          DOUBLE PRECISION,
		temperature   DOUBLE PRECISION,
		motion        DOUBLE PRECISION,
		battery_level DOUBLE PRECISION CHECK (battery_level BETWEEN 0 AND 100),
		raw_payload   JSONB,
		received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS vital_measurements_assignment_time
		ON vital_measurements (assignment_id, measured_at DESC)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id                BIGSERIAL PRIMARY KEY,
		assignment_id     BIGINT NOT NULL REFERENCES wristband_assignments(id),
		generated_at      TIMESTAMPTZ NOT NULL,
		acknowledged_at   TIMESTAMPTZ,
		reviewed_at       TIMESTAMPTZ,
		reviewed_by       TEXT,
		clinical_note     TEXT,
		alert_type        TEXT NOT NULL,
		severity          TEXT NOT NULL,
		status            TEXT NOT NULL,
		threshold_profile TEXT NOT NULL,
		metric            TEXT NOT NULL,
		value             DOUBLE PRECISION NOT NULL,
		description       TEXT NOT NULL,
		full_description  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_generated_at ON alerts (generated_at DESC)`,
}

// Migrate creates the tables the worker writes to
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
		}
	}
	return nil
}
