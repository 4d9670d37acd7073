package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"go.uber.org/zap"
)

// ErrNotFound means the device has no usable active assignment right now.
// Lookup failures and timeouts are reported the same way.
var ErrNotFound = errors.New("no active assignment")

// Assignment is the resolved binding of a device to a wearer
type Assignment struct {
	ID        int64             `json:"assignment_id"`
	DeviceID  int64             `json:"device_id"`
	PatientID int64             `json:"patient_id"`
	Profile   threshold.Profile `json:"threshold_profile"`
}

// Source looks up the active assignment of a device. Implementations
// return ErrNotFound when there is none.
type Source interface {
	ActiveAssignment(ctx context.Context, deviceID int64) (*Assignment, error)
}

type entry struct {
	assignment Assignment
	expires    time.Time
}

// Resolver is a read-through cache over a Source. Only hits are cached,
// entries expire after ttl and can be dropped early with Invalidate. A
// lookup that overlaps an Invalidate of the same device is not cached.
type Resolver struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
	gens    map[int64]uint64
}

// NewResolver creates a resolver
func NewResolver(source Source, ttl, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		source:  source,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		entries: make(map[int64]entry),
		gens:    make(map[int64]uint64),
	}
}

// Resolve returns the active assignment for a device
func (r *Resolver) Resolve(ctx context.Context, deviceID int64) (Assignment, error) {
	a, gen, ok := r.cached(deviceID)
	if ok {
		return a, nil
	}

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	found, err := r.source.ActiveAssignment(lookupCtx, deviceID)
	if errors.Is(err, ErrNotFound) || (err == nil && found == nil) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		r.logger.Warn("assignment lookup failed",
			zap.Int64("device_id", deviceID),
			zap.Error(err),
		)
		return Assignment{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	r.store(deviceID, *found, gen)
	return *found, nil
}

// Invalidate drops the cached assignment of a device
func (r *Resolver) Invalidate(deviceID int64) {
	r.mu.Lock()
	delete(r.entries, deviceID)
	r.gens[deviceID]++
	r.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// cached returns a live entry, or the device's invalidation generation
// to hand back to store after a lookup.
func (r *Resolver) cached(deviceID int64) (Assignment, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gen := r.gens[deviceID]
	e, ok := r.entries[deviceID]
	if !ok {
		return Assignment{}, gen, false
	}
	if r.ttl > 0 && !r.now().Before(e.expires) {
		delete(r.entries, deviceID)
		return Assignment{}, gen, false
	}
	return e.assignment, gen, true
}

func (r *Resolver) store(deviceID int64, a Assignment, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[deviceID] != gen {
		return
	}
	r.entries[deviceID] = entry{assignment: a, expires: r.now().Add(r.ttl)}
}

// Finder is the repository query behind RepositorySource
type Finder interface {
	ActiveAssignmentByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error)
}

// RepositorySource reads assignments straight from the database
type RepositorySource struct {
	finder Finder
}

// NewRepositorySource creates a database-backed source
func NewRepositorySource(finder Finder) *RepositorySource {
	return &RepositorySource{finder: finder}
}

// ActiveAssignment implements Source
func (s *RepositorySource) ActiveAssignment(ctx context.Context, deviceID int64) (*Assignment, error) {
	row, err := s.finder.ActiveAssignmentByDevice(ctx, deviceID)
	if errors.Is(err, db.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return FromRow(row), nil
}

// FromRow converts a database assignment
func FromRow(row *db.Assignment) *Assignment {
	return &Assignment{
		ID:        row.ID,
		DeviceID:  row.DeviceID,
		PatientID: row.PatientID,
		Profile:   threshold.Profile(row.ThresholdProfile),
	}
}
