package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, NewStore(client, ttl, zap.NewNop())
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestStore_PutGet(t *testing.T) {
	mr, store := setupTestStore(t, time.Hour)
	ctx := context.Background()

	measuredAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	err := store.Put(ctx, &Snapshot{
		PatientID:  3,
		DeviceID:   7,
		MeasuredAt: measuredAt,
		HeartRate:  floatPtr(72),
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("vitals:patient:3:latest"))

	snap, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.DeviceID)
	assert.Equal(t, floatPtr(72), snap.HeartRate)
	assert.Nil(t, snap.SpO2)
	assert.True(t, snap.MeasuredAt.Equal(measuredAt))
}

func TestStore_GetMissing(t *testing.T) {
	_, store := setupTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_KeepsNewerSnapshot(t *testing.T) {
	_, store := setupTestStore(t, time.Hour)
	ctx := context.Background()
	newer := time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, &Snapshot{PatientID: 3, MeasuredAt: newer, HeartRate: floatPtr(80)}))
	require.NoError(t, store.Put(ctx, &Snapshot{PatientID: 3, MeasuredAt: newer.Add(-time.Minute), HeartRate: floatPtr(60)}))

	snap, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, floatPtr(80), snap.HeartRate)
}

func TestStore_Expires(t *testing.T) {
	mr, store := setupTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Snapshot{PatientID: 3, MeasuredAt: time.Now()}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Ping(t *testing.T) {
	mr, store := setupTestStore(t, 0)
	ctx := context.Background()

	assert.NoError(t, store.Ping(ctx))
	mr.Close()
	assert.Error(t, store.Ping(ctx))
}
