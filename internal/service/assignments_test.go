package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const assignmentsRoute = config.Route("assignments.changed.{device_id}")

func newAssignmentService(store AssignmentStore, cache Invalidator, pub Publisher) *AssignmentService {
	s := NewAssignmentService(store, cache, pub, assignmentsRoute, zap.NewNop())
	s.now = clock
	return s
}

func TestAssign_InvalidatesAndAnnounces(t *testing.T) {
	cache := &fakeInvalidator{}
	pub := &fakePublisher{}
	s := newAssignmentService(newFakeAssignments(), cache, pub)

	a, err := s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.DeviceID)
	assert.Equal(t, "STANDARD", a.ThresholdProfile)
	assert.True(t, a.Active())
	assert.Equal(t, []int64{3}, cache.invalidated)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "assignments.changed.3", pub.msgs[0].key)
	var msg message.AssignmentChangedMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].body, &msg))
	assert.Equal(t, message.ActionAssigned, msg.Action)
	assert.Equal(t, a.ID, msg.AssignmentID)
	assert.Equal(t, int64(10), msg.PatientID)
}

func TestAssign_Conflicts(t *testing.T) {
	s := newAssignmentService(newFakeAssignments(), &fakeInvalidator{}, &fakePublisher{})

	_, err := s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)

	_, err = s.Assign(context.Background(), 3, 11)
	assert.ErrorIs(t, err, ErrAssignmentConflict)

	_, err = s.Assign(context.Background(), 4, 10)
	assert.ErrorIs(t, err, ErrAssignmentConflict)

	_, err = s.Assign(context.Background(), 5, 99)
	assert.ErrorIs(t, err, db.ErrNoRows)
}

func TestAssign_PublishFailureStillAssigns(t *testing.T) {
	store := newFakeAssignments()
	cache := &fakeInvalidator{}
	s := newAssignmentService(store, cache, &fakePublisher{err: errBroker})

	_, err := s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)
	assert.Len(t, store.open, 1)
	assert.Equal(t, []int64{3}, cache.invalidated)
}

func TestUnassign(t *testing.T) {
	store := newFakeAssignments()
	cache := &fakeInvalidator{}
	pub := &fakePublisher{}
	s := newAssignmentService(store, cache, pub)

	_, err := s.Unassign(context.Background(), 3)
	assert.ErrorIs(t, err, assignment.ErrNotFound)

	_, err = s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)

	closed, err := s.Unassign(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, closed.Active())
	assert.Equal(t, []int64{3, 3}, cache.invalidated)

	require.Len(t, pub.msgs, 2)
	var msg message.AssignmentChangedMessage
	require.NoError(t, json.Unmarshal(pub.msgs[1].body, &msg))
	assert.Equal(t, message.ActionUnassigned, msg.Action)

	_, err = s.ByDevice(context.Background(), 3)
	assert.ErrorIs(t, err, assignment.ErrNotFound)
}

func TestActiveDevices(t *testing.T) {
	s := newAssignmentService(newFakeAssignments(), &fakeInvalidator{}, &fakePublisher{})

	_, err := s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)
	_, err = s.Assign(context.Background(), 8, 11)
	require.NoError(t, err)

	ids, err := s.ActiveDevices(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3, 8}, ids)

	a, err := s.ByDevice(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(11), a.PatientID)
}

func TestAssignmentListener(t *testing.T) {
	cache := &fakeInvalidator{}
	l := NewAssignmentListener(cache, zap.NewNop())

	require.NoError(t, l.HandleChange(context.Background(), []byte(`{"device_id":9,"assignment_id":1,"patient_id":2,"action":"unassigned"}`)))
	assert.Equal(t, []int64{9}, cache.invalidated)

	err := l.HandleChange(context.Background(), []byte(`{"device_id":9,"action":"moved"}`))
	assert.ErrorIs(t, err, validator.ErrInvalidMessage)
	assert.Len(t, cache.invalidated, 1)
}

func TestAssignmentChangeRefreshesResolver(t *testing.T) {
	store := newFakeAssignments()
	resolver := assignment.NewResolver(
		assignment.NewRepositorySource(store),
		0, 0, zap.NewNop(),
	)
	s := newAssignmentService(store, resolver, &fakePublisher{})

	_, err := resolver.Resolve(context.Background(), 3)
	assert.ErrorIs(t, err, assignment.ErrNotFound)

	_, err = s.Assign(context.Background(), 3, 11)
	require.NoError(t, err)
	got, err := resolver.Resolve(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.PatientID)

	_, err = s.Unassign(context.Background(), 3)
	require.NoError(t, err)
	_, err = s.Assign(context.Background(), 3, 10)
	require.NoError(t, err)

	got, err = resolver.Resolve(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.PatientID)
}
