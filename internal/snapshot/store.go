package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no snapshot exists for a patient
var ErrNotFound = errors.New("vitals snapshot not found")

const keyPrefix = "vitals:patient:"

// Snapshot is the latest measurement seen for a patient
type Snapshot struct {
	PatientID    int64     `json:"patient_id"`
	DeviceID     int64     `json:"device_id"`
	AssignmentID int64     `json:"assignment_id"`
	MeasuredAt   time.Time `json:"measured_at"`
	HeartRate    *float64  `json:"heart_rate"`
	SpO2         *float64  `json:"spo2"`
	Temperature  *float64  `json:"temperature"`
	Motion       *float64  `json:"motion"`
	BatteryLevel *float64  `json:"battery_level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewRedisClient creates the Redis client behind the store
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Store keeps one snapshot per patient in Redis
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a snapshot store. A zero ttl keeps snapshots forever.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(patientID int64) string {
	return keyPrefix + strconv.FormatInt(patientID, 10) + ":latest"
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put replaces the snapshot of a patient unless the stored one is newer
func (s *Store) Put(ctx context.Context, snap *Snapshot) error {
	current, err := s.Get(ctx, snap.PatientID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current != nil && current.MeasuredAt.After(snap.MeasuredAt) {
		s.logger.Debug("skipping older snapshot",
			zap.Int64("patient_id", snap.PatientID),
			zap.Time("stored", current.MeasuredAt),
			zap.Time("incoming", snap.MeasuredAt),
		)
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, key(snap.PatientID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// Get returns the latest snapshot of a patient
func (s *Store) Get(ctx context.Context, patientID int64) (*Snapshot, error) {
	data, err := s.client.Get(ctx, key(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
