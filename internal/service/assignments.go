package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"go.uber.org/zap"
)

// ErrAssignmentConflict is returned when the device or patient already has an open assignment
var ErrAssignmentConflict = errors.New("device or patient already assigned")

// AssignmentService manages device to patient bindings
type AssignmentService struct {
	store     AssignmentStore
	cache     Invalidator
	publisher Publisher
	route     config.Route
	logger    *zap.Logger
	now       func() time.Time
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(
	store AssignmentStore,
	cache Invalidator,
	publisher Publisher,
	route config.Route,
	logger *zap.Logger,
) *AssignmentService {
	return &AssignmentService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		route:     route,
		logger:    logger,
		now:       time.Now,
	}
}

// Assign opens an assignment binding deviceID to patientID
func (s *AssignmentService) Assign(ctx context.Context, deviceID, patientID int64) (*db.Assignment, error) {
	a, err := s.store.CreateAssignment(ctx, deviceID, patientID)
	if errors.Is(err, db.ErrConflict) {
		return nil, fmt.Errorf("%w: device %d, patient %d", ErrAssignmentConflict, deviceID, patientID)
	}
	if err != nil {
		return nil, err
	}

	s.changed(ctx, a, message.ActionAssigned)
	return a, nil
}

// Unassign closes the open assignment of deviceID
func (s *AssignmentService) Unassign(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	a, err := s.store.CloseAssignment(ctx, deviceID)
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: device %d", assignment.ErrNotFound, deviceID)
	}
	if err != nil {
		return nil, err
	}

	s.changed(ctx, a, message.ActionUnassigned)
	return a, nil
}

// ByDevice returns the open assignment of deviceID
func (s *AssignmentService) ByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	a, err := s.store.ActiveAssignmentByDevice(ctx, deviceID)
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: device %d", assignment.ErrNotFound, deviceID)
	}
	return a, err
}

// Active lists every open assignment
func (s *AssignmentService) Active(ctx context.Context) ([]db.Assignment, error) {
	return s.store.ListActiveAssignments(ctx)
}

// ActiveDevices lists the ids of devices with an open assignment
func (s *AssignmentService) ActiveDevices(ctx context.Context) ([]int64, error) {
	rows, err := s.store.ListActiveAssignments(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.DeviceID)
	}
	return ids, nil
}

func (s *AssignmentService) changed(ctx context.Context, a *db.Assignment, action string) {
	s.cache.Invalidate(a.DeviceID)

	msg := message.AssignmentChangedMessage{
		DeviceID:     a.DeviceID,
		AssignmentID: a.ID,
		PatientID:    a.PatientID,
		Action:       action,
		ChangedAt:    s.now().UTC(),
	}
	routingKey := s.route.Key(a.DeviceID)
	if err := s.publisher.Publish(ctx, routingKey, msg); err != nil {
		// Other replicas fall back to the cache TTL
		s.logger.Error("failed to publish assignment change",
			zap.Int64("device_id", a.DeviceID),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("assignment changed",
		zap.Int64("device_id", a.DeviceID),
		zap.Int64("assignment_id", a.ID),
		zap.Int64("patient_id", a.PatientID),
		zap.String("action", action),
	)
}

// AssignmentListener drops cached assignments when any replica changes one
type AssignmentListener struct {
	cache  Invalidator
	logger *zap.Logger
}

// NewAssignmentListener creates a new assignment listener
func NewAssignmentListener(cache Invalidator, logger *zap.Logger) *AssignmentListener {
	return &AssignmentListener{cache: cache, logger: logger}
}

// HandleChange processes one assignments.changed.<device_id> delivery
func (l *AssignmentListener) HandleChange(ctx context.Context, body []byte) error {
	msg, err := message.DecodeAssignmentChanged(body)
	if err != nil {
		return err
	}
	l.cache.Invalidate(msg.DeviceID)
	logging.WithDevice(l.logger, msg.DeviceID).Debug("assignment cache invalidated",
		zap.String("action", msg.Action),
	)
	return nil
}
