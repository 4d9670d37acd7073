package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/alert"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/hub"
	"go.uber.org/zap"
)

// AlertService serves alert reads and the acknowledge transition
type AlertService struct {
	store   AlertStore
	notices *hub.Broadcaster[AlertNotice]
	logger  *zap.Logger
	now     func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(store AlertStore, notices *hub.Broadcaster[AlertNotice], logger *zap.Logger) *AlertService {
	return &AlertService{
		store:   store,
		notices: notices,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns one alert
func (s *AlertService) Get(ctx context.Context, id int64) (*db.Alert, error) {
	a, err := s.store.GetAlert(ctx, id)
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", alert.ErrNotFound, id)
	}
	return a, err
}

// List returns the most recent alerts first
func (s *AlertService) List(ctx context.Context, limit int) ([]db.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAlerts(ctx, limit)
}

// Acknowledge moves an alert from JUST_GENERATED to ACKNOWLEDGED.
// Acknowledging an already acknowledged alert returns it unchanged.
func (s *AlertService) Acknowledge(ctx context.Context, id int64, reviewedBy, note *string) (*db.Alert, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		status := alert.Status(current.Status)
		if status == alert.Acknowledged {
			return current, nil
		}
		if err := alert.Transition(status, alert.Acknowledged); err != nil {
			return nil, err
		}

		at := s.now().UTC()
		err := s.store.AcknowledgeAlert(ctx, id, string(alert.JustGenerated), string(alert.Acknowledged), reviewedBy, note, at)
		if err == nil {
			current.Status = string(alert.Acknowledged)
			current.AcknowledgedAt = &at
			current.ReviewedAt = &at
			current.ReviewedBy = reviewedBy
			current.ClinicalNote = note
			s.notify(NoticeAlertAcknowledged)
			s.logger.Info("alert acknowledged", zap.Int64("alert_id", id))
			return current, nil
		}
		if !errors.Is(err, db.ErrNoRows) {
			return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
		}

		// Lost a race with another reviewer; re-read and decide again
		if current, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", alert.ErrInvalidTransition, current.Status, alert.Acknowledged)
}

func (s *AlertService) notify(kind string) {
	if s.notices != nil {
		s.notices.Publish(AlertNotice{Type: kind})
	}
}

// DashboardService computes the overview counters
type DashboardService struct {
	store             OverviewStore
	lowBatteryPercent float64
	recentAlerts      int
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(store OverviewStore, lowBatteryPercent float64, recentAlerts int) *DashboardService {
	return &DashboardService{
		store:             store,
		lowBatteryPercent: lowBatteryPercent,
		recentAlerts:      recentAlerts,
	}
}

// Overview returns the dashboard counters and the newest alerts
func (s *DashboardService) Overview(ctx context.Context) (*db.Overview, error) {
	return s.store.Overview(ctx, s.lowBatteryPercent, s.recentAlerts)
}
