package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/snapshot"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/septivank/vitals-risk-worker/internal/validator"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestValidator() *validator.Validator {
	return validator.NewValidator(10080)
}

func ptr(v float64) *float64 { return &v }

type fakeResolver struct {
	assignments map[int64]assignment.Assignment
	calls       int
}

func newFakeResolver(list ...assignment.Assignment) *fakeResolver {
	r := &fakeResolver{assignments: make(map[int64]assignment.Assignment)}
	for _, a := range list {
		r.assignments[a.DeviceID] = a
	}
	return r
}

func (r *fakeResolver) Resolve(ctx context.Context, deviceID int64) (assignment.Assignment, error) {
	r.calls++
	a, ok := r.assignments[deviceID]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return a, nil
}

type fakeInvalidator struct {
	invalidated []int64
}

func (f *fakeInvalidator) Invalidate(deviceID int64) {
	f.invalidated = append(f.invalidated, deviceID)
}

type published struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, published{key: routingKey, body: body})
	p.mu.Unlock()
	return nil
}

type fakeMeasurements struct {
	rows []db.Measurement
	err  error
}

func (f *fakeMeasurements) InsertMeasurement(ctx context.Context, m *db.Measurement) error {
	if f.err != nil {
		return f.err
	}
	m.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *m)
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	rows   map[int64]*db.Alert
	nextID int64
	// raced flips the alert to ACKNOWLEDGED right before the conditional update
	raced       bool
	assignments map[int64]*db.Assignment
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{
		rows: make(map[int64]*db.Alert),
		assignments: map[int64]*db.Assignment{
			30: {ID: 30, DeviceID: 3, PatientID: 10, ThresholdProfile: "STANDARD"},
		},
	}
}

func (f *fakeAlerts) AssignmentByID(ctx context.Context, id int64) (*db.Assignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	row := *a
	return &row, nil
}

func (f *fakeAlerts) InsertAlert(ctx context.Context, a *db.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	row := *a
	f.rows[a.ID] = &row
	return nil
}

func (f *fakeAlerts) GetAlert(ctx context.Context, id int64) (*db.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	row := *a
	return &row, nil
}

func (f *fakeAlerts) AcknowledgeAlert(ctx context.Context, id int64, from, to string, reviewedBy, note *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return db.ErrNoRows
	}
	if f.raced {
		f.raced = false
		a.Status = to
		return db.ErrNoRows
	}
	if a.Status != from {
		return db.ErrNoRows
	}
	a.Status = to
	a.AcknowledgedAt = &at
	a.ReviewedAt = &at
	a.ReviewedBy = reviewedBy
	a.ClinicalNote = note
	return nil
}

func (f *fakeAlerts) ListAlerts(ctx context.Context, limit int) ([]db.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]db.Alert, 0, len(f.rows))
	for id := f.nextID; id > 0 && len(out) < limit; id-- {
		if a, ok := f.rows[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeAssignments struct {
	open     map[int64]*db.Assignment
	patients map[int64]string
	nextID   int64
}

func newFakeAssignments() *fakeAssignments {
	return &fakeAssignments{
		open:     make(map[int64]*db.Assignment),
		patients: map[int64]string{10: "STANDARD", 11: "CARDIAC"},
	}
}

func (f *fakeAssignments) ActiveAssignmentByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	a, ok := f.open[deviceID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return a, nil
}

func (f *fakeAssignments) ListActiveAssignments(ctx context.Context) ([]db.Assignment, error) {
	out := make([]db.Assignment, 0, len(f.open))
	for _, a := range f.open {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAssignments) CreateAssignment(ctx context.Context, deviceID, patientID int64) (*db.Assignment, error) {
	profile, ok := f.patients[patientID]
	if !ok {
		return nil, db.ErrNoRows
	}
	if _, busy := f.open[deviceID]; busy {
		return nil, db.ErrConflict
	}
	for _, a := range f.open {
		if a.PatientID == patientID {
			return nil, db.ErrConflict
		}
	}
	f.nextID++
	a := &db.Assignment{ID: f.nextID, DeviceID: deviceID, PatientID: patientID, ThresholdProfile: profile, StartDate: fixedNow}
	f.open[deviceID] = a
	return a, nil
}

func (f *fakeAssignments) CloseAssignment(ctx context.Context, deviceID int64) (*db.Assignment, error) {
	a, ok := f.open[deviceID]
	if !ok {
		return nil, db.ErrNoRows
	}
	delete(f.open, deviceID)
	end := fixedNow
	a.EndDate = &end
	return a, nil
}

type fakeSnapshots struct {
	puts []snapshot.Snapshot
	err  error
}

func (f *fakeSnapshots) Put(ctx context.Context, snap *snapshot.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, *snap)
	return nil
}

var errBroker = errors.New("broker unavailable")

var standardDevice3 = assignment.Assignment{ID: 30, DeviceID: 3, PatientID: 10, Profile: threshold.Standard}
