package service

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"go.uber.org/zap"
)

// PersisterService writes every measurement of an assigned device
type PersisterService struct {
	resolver  Resolver
	store     MeasurementStore
	validator *validator.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewPersisterService creates a new persister service
func NewPersisterService(resolver Resolver, store MeasurementStore, validator *validator.Validator, logger *zap.Logger) *PersisterService {
	return &PersisterService{
		resolver:  resolver,
		store:     store,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleVitals processes one vitals.<device_id> delivery
func (s *PersisterService) HandleVitals(ctx context.Context, body []byte) error {
	msg, err := message.DecodeVitals(body, s.validator, s.now())
	if err != nil {
		return err
	}

	logger := logging.WithDevice(s.logger, msg.DeviceID)

	a, err := s.resolver.Resolve(ctx, msg.DeviceID)
	if err != nil {
		logging.Drop(logger, "device not assigned", zap.Error(err))
		return nil
	}

	m := &db.Measurement{
		AssignmentID: a.ID,
		MeasuredAt:   msg.Time(),
		HeartRate:    msg.HeartRate,
		SpO2:         msg.SpO2,
		Temperature:  msg.Temperature,
		Motion:       msg.Motion,
		BatteryLevel: msg.BatteryLevel,
		RawPayload:   body,
	}
	if err := s.store.InsertMeasurement(ctx, m); err != nil {
		return fmt.Errorf("failed to persist measurement: %w", err)
	}

	logger.Debug("measurement persisted",
		zap.Int64("assignment_id", a.ID),
		zap.Int64("measurement_id", m.ID),
	)
	return nil
}
