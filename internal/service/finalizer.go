package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/alert"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/hub"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"go.uber.org/zap"
)

// FinalizerService turns risk events into stored alerts and fans them out
type FinalizerService struct {
	resolver  Resolver
	alerts    AlertStore
	publisher Publisher
	route     config.Route
	notices   *hub.Broadcaster[AlertNotice]
	logger    *zap.Logger
	now       func() time.Time
}

// NewFinalizerService creates a new finalizer service
func NewFinalizerService(
	resolver Resolver,
	alerts AlertStore,
	publisher Publisher,
	route config.Route,
	notices *hub.Broadcaster[AlertNotice],
	logger *zap.Logger,
) *FinalizerService {
	return &FinalizerService{
		resolver:  resolver,
		alerts:    alerts,
		publisher: publisher,
		route:     route,
		notices:   notices,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleRiskEvent processes one risk.<device_id> delivery
func (s *FinalizerService) HandleRiskEvent(ctx context.Context, body []byte) error {
	event, err := message.DecodeRiskEvent(body)
	if err != nil {
		return err
	}

	logger := logging.WithEventID(s.logger, event.EventID)

	if event.AssignmentID <= 0 {
		a, err := s.resolver.Resolve(ctx, event.DeviceID)
		if err != nil {
			logging.Drop(logger, "risk event without resolvable assignment",
				zap.Int64("device_id", event.DeviceID), zap.Error(err))
			return nil
		}
		event.AssignmentID = a.ID
		event.PatientID = a.PatientID
		if event.ThresholdProfile == "" {
			event.ThresholdProfile = a.Profile
		}
	} else if event.DeviceID <= 0 || event.PatientID <= 0 || event.ThresholdProfile == "" {
		a, err := s.alerts.AssignmentByID(ctx, event.AssignmentID)
		if errors.Is(err, db.ErrNoRows) {
			logging.Drop(logger, "risk event for unknown assignment", zap.Int64("assignment_id", event.AssignmentID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load assignment %d: %w", event.AssignmentID, err)
		}
		if event.DeviceID <= 0 {
			event.DeviceID = a.DeviceID
		}
		if event.PatientID <= 0 {
			event.PatientID = a.PatientID
		}
		if event.ThresholdProfile == "" {
			event.ThresholdProfile = threshold.Profile(a.ThresholdProfile)
		}
	}

	logger = logging.WithDevice(logger, event.DeviceID)

	generatedAt := event.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now().UTC()
	}

	short, full := alert.Describe(event.Metric, event.Severity, event.DeviceID, event.Value)

	row := &db.Alert{
		AssignmentID:     event.AssignmentID,
		DeviceID:         event.DeviceID,
		PatientID:        event.PatientID,
		GeneratedAt:      generatedAt,
		AlertType:        alert.Type(event.Metric),
		Severity:         string(event.Severity),
		Status:           string(alert.JustGenerated),
		ThresholdProfile: string(event.ThresholdProfile),
		Metric:           string(event.Metric),
		Value:            event.Value,
		Description:      short,
		FullDescription:  full,
	}
	if err := s.alerts.InsertAlert(ctx, row); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}

	out := message.AlertMessage{
		AlertID:          row.ID,
		AssignmentID:     row.AssignmentID,
		DeviceID:         row.DeviceID,
		PatientID:        row.PatientID,
		EventID:          event.EventID,
		AlertType:        row.AlertType,
		Severity:         event.Severity,
		Status:           row.Status,
		Metric:           event.Metric,
		Value:            row.Value,
		ThresholdProfile: event.ThresholdProfile,
		Description:      short,
		FullDescription:  full,
		GeneratedAt:      generatedAt,
	}

	// The alert is stored; a failed fan-out must not redeliver and duplicate it
	routingKey := s.route.Key(event.DeviceID)
	if err := s.publisher.Publish(ctx, routingKey, out); err != nil {
		logger.Error("failed to publish alert",
			zap.Int64("alert_id", row.ID),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}

	if s.notices != nil {
		s.notices.Publish(AlertNotice{Type: NoticeAlertCreated})
	}

	logger.Info("alert created",
		zap.Int64("alert_id", row.ID),
		zap.Int64("assignment_id", row.AssignmentID),
		zap.String("severity", row.Severity),
		zap.String("metric", row.Metric),
	)
	return nil
}
