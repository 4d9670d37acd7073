package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"go.uber.org/zap"
)

// RiskService evaluates measurements and publishes one risk event per breach
type RiskService struct {
	resolver  Resolver
	evaluator *threshold.Evaluator
	publisher Publisher
	validator *validator.Validator
	route     config.Route
	logger    *zap.Logger
	now       func() time.Time
}

// NewRiskService creates a new risk service
func NewRiskService(
	resolver Resolver,
	evaluator *threshold.Evaluator,
	publisher Publisher,
	validator *validator.Validator,
	route config.Route,
	logger *zap.Logger,
) *RiskService {
	return &RiskService{
		resolver:  resolver,
		evaluator: evaluator,
		publisher: publisher,
		validator: validator,
		route:     route,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleVitals processes one vitals.<device_id> delivery
func (s *RiskService) HandleVitals(ctx context.Context, body []byte) error {
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

	result, err := s.evaluator.Evaluate(msg.Reading(), a.Profile)
	if err != nil {
		logging.Drop(logger, "unknown threshold profile", zap.String("profile", string(a.Profile)))
		return nil
	}
	if !result.Breached() {
		logger.Debug("measurement within thresholds", zap.String("profile", string(a.Profile)))
		return nil
	}

	event := message.RiskEventMessage{
		EventID:          uuid.NewString(),
		DeviceID:         msg.DeviceID,
		AssignmentID:     a.ID,
		PatientID:        a.PatientID,
		Severity:         result.Severity,
		Metric:           result.Metric,
		Value:            result.Value,
		ThresholdProfile: a.Profile,
		MeasuredAt:       msg.MeasuredAt,
		GeneratedAt:      s.now().UTC(),
	}

	routingKey := s.route.Key(msg.DeviceID)
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		return fmt.Errorf("failed to publish risk event: %w", err)
	}

	logging.WithEventID(logger, event.EventID).Info("risk event published",
		zap.String("routing_key", routingKey),
		zap.String("severity", string(event.Severity)),
		zap.String("metric", string(event.Metric)),
		zap.Float64("value", event.Value),
	)

	return nil
}
