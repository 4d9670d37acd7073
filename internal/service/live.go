package service

import (
	"context"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/hub"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/snapshot"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"go.uber.org/zap"
)

// VitalsEventType is the type of every live vitals event
const VitalsEventType = "vital_update"

// VitalsEvent is pushed to dashboards following a patient
type VitalsEvent struct {
	Type      string             `json:"type"`
	PatientID int64              `json:"patient_id"`
	Data      *snapshot.Snapshot `json:"data"`
}

// LiveService bridges vitals deliveries into the per-patient hub
type LiveService struct {
	resolver  Resolver
	validator *validator.Validator
	snapshots SnapshotWriter
	hub       *hub.Keyed[int64, VitalsEvent]
	logger    *zap.Logger
	now       func() time.Time
}

// NewLiveService creates a new live service. snapshots may be nil.
func NewLiveService(
	resolver Resolver,
	validator *validator.Validator,
	snapshots SnapshotWriter,
	vitalsHub *hub.Keyed[int64, VitalsEvent],
	logger *zap.Logger,
) *LiveService {
	return &LiveService{
		resolver:  resolver,
		validator: validator,
		snapshots: snapshots,
		hub:       vitalsHub,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleVitals processes one vitals.<device_id> delivery
func (s *LiveService) HandleVitals(ctx context.Context, body []byte) error {
	now := s.now()
	msg, err := message.DecodeVitals(body, s.validator, now)
	if err != nil {
		return err
	}

	logger := logging.WithDevice(s.logger, msg.DeviceID)

	a, err := s.resolver.Resolve(ctx, msg.DeviceID)
	if err != nil {
		logging.Drop(logger, "device not assigned", zap.Error(err))
		return nil
	}

	snap := &snapshot.Snapshot{
		PatientID:    a.PatientID,
		DeviceID:     msg.DeviceID,
		AssignmentID: a.ID,
		MeasuredAt:   msg.Time(),
		HeartRate:    msg.HeartRate,
		SpO2:         msg.SpO2,
		Temperature:  msg.Temperature,
		Motion:       msg.Motion,
		BatteryLevel: msg.BatteryLevel,
		UpdatedAt:    now.UTC(),
	}

	if s.snapshots != nil {
		if err := s.snapshots.Put(ctx, snap); err != nil {
			logger.Warn("failed to store vitals snapshot", zap.Error(err))
		}
	}

	event := VitalsEvent{Type: VitalsEventType, PatientID: a.PatientID, Data: snap}
	if err := s.hub.Submit(ctx, a.PatientID, event); err != nil {
		logging.Drop(logger, "live hub unavailable", zap.Error(err))
	}
	return nil
}
