package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/miniprobe/internal/models"
)

func u64(v uint64) *uint64 { return &v }

func TestWriteSample_StoresAllChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, sess := seedSession(t, s)

	id, err := s.WriteSample(ctx, sess.ID, models.Sample{
		SampleTime: 1_700_000_000,
		CPU: []models.CPUReading{
			{Core: 1, Usage: 0.9},
			{Core: 0, Usage: 0.5},
		},
		Memory:  &models.MemoryReading{Total: 16000, Used: 8000, SwapTotal: 0, SwapUsed: 0},
		Network: []models.NetworkReading{{IfName: "eth0", RxBytes: u64(100), TxBytes: u64(50)}},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.GetSample(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.SessionID)
	assert.Equal(t, int64(1_700_000_000), got.SampleTime)

	require.Len(t, got.CPU, 2)
	assert.Equal(t, 0, got.CPU[0].CPUID)
	assert.InDelta(t, 0.5, got.CPU[0].CPUUsage, 1e-9)
	assert.Equal(t, 1, got.CPU[1].CPUID)
	assert.InDelta(t, 0.9, got.CPU[1].CPUUsage, 1e-9)

	require.NotNil(t, got.Memory)
	assert.Equal(t, int64(16000), got.Memory.Total)
	assert.Equal(t, int64(8000), got.Memory.Used)

	require.Len(t, got.Network, 1)
	assert.Equal(t, "eth0", got.Network[0].IfName)
	require.NotNil(t, got.Network[0].RxBytes)
	assert.Equal(t, int64(100), *got.Network[0].RxBytes)
	assert.Equal(t, int64(50), *got.Network[0].TxBytes)
}

func TestWriteSample_OptionalParts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, sess := seedSession(t, s)

	id, err := s.WriteSample(ctx, sess.ID, models.Sample{
		SampleTime: 5,
		CPU:        []models.CPUReading{{Core: 0, Usage: 1.7}, {Core: 1, Usage: -0.2}},
		Network: []models.NetworkReading{
			{IfName: "wlan0"},
			{IfName: "eth0", RxBytes: u64(1)},
		},
	})
	require.NoError(t, err)

	got, err := s.GetSample(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Memory)

	// Out-of-range usage is stored verbatim.
	require.Len(t, got.CPU, 2)
	assert.InDelta(t, 1.7, got.CPU[0].CPUUsage, 1e-9)
	assert.InDelta(t, -0.2, got.CPU[1].CPUUsage, 1e-9)

	require.Len(t, got.Network, 2)
	assert.Equal(t, "eth0", got.Network[0].IfName)
	assert.Nil(t, got.Network[0].TxBytes)
	assert.Equal(t, "wlan0", got.Network[1].IfName)
	assert.Nil(t, got.Network[1].RxBytes)
	assert.Nil(t, got.Network[1].TxBytes)
}

func TestWriteSample_RollsBackOnChildFailure(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	_, sess := seedSession(t, s)
	clock.Advance(time.Minute)

	_, err := s.WriteSample(ctx, sess.ID, models.Sample{
		SampleTime: 10,
		CPU:        []models.CPUReading{{Core: 0, Usage: 0.3}},
		Memory:     &models.MemoryReading{Total: 10, Used: 5},
		Network: []models.NetworkReading{
			{IfName: "eth0", RxBytes: u64(1)},
			{IfName: "eth0", RxBytes: u64(2)},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.NotErrorIs(t, err, ErrConflict)

	assert.Equal(t, int64(0), countRows(t, s, &models.SessionData{}))
	assert.Equal(t, int64(0), countRows(t, s, &models.SessionDataCPU{}))
	assert.Equal(t, int64(0), countRows(t, s, &models.SessionDataMemory{}))
	assert.Equal(t, int64(0), countRows(t, s, &models.SessionDataNetwork{}))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.LastActive, got.LastActive, "watermark must not move on rollback")
}

func TestWriteSample_VanishedSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, sess := seedSession(t, s)
	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err := s.WriteSample(ctx, sess.ID, models.Sample{
		SampleTime: 1,
		CPU:        []models.CPUReading{{Core: 0, Usage: 0.1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(0), countRows(t, s, &models.SessionData{}))
}

func TestWriteSample_AdvancesWatermarkWithServerClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := newFakeClock(start)
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	_, sess := seedSession(t, s)

	clock.Advance(10 * time.Minute)
	// An old sample_time must not matter; the server clock does.
	_, err := s.WriteSample(ctx, sess.ID, models.Sample{SampleTime: start.Add(-time.Hour).Unix()})
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Unix(), got.LastActive)
}

func TestWriteSample_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, a := seedSession(t, s)
	_, b := seedSession(t, s)

	const writers, perWriter = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		sessionID := a.ID
		if w%2 == 1 {
			sessionID = b.ID
		}
		wg.Add(1)
		go func(w int, sessionID int64) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.WriteSample(ctx, sessionID, models.Sample{
					SampleTime: int64(w*100 + i),
					CPU:        []models.CPUReading{{Core: 0, Usage: 0.5}},
					Memory:     &models.MemoryReading{Total: 1, Used: 1},
				})
				errs <- err
			}
		}(w, sessionID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int64(writers*perWriter), countRows(t, s, &models.SessionData{}))
	assert.Equal(t, int64(writers*perWriter), countRows(t, s, &models.SessionDataMemory{}))

	recent, err := s.ListSamples(ctx, a.ID, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.GreaterOrEqual(t, recent[0].SampleTime, recent[1].SampleTime)
}

func TestGetSample_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSample(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}
