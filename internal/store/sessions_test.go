package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/miniprobe/internal/models"
)

func TestOpenSession(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	client, _, err := s.CreateClient(ctx, "c")
	require.NoError(t, err)

	sess, err := s.OpenSession(ctx, client.ID, models.HostInfo{
		SystemName:    "Debian GNU/Linux",
		KernelVersion: "6.1.0",
		OSVersion:     "12",
		HostName:      "node-1",
		CPUArch:       "aarch64",
	})
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClientID)
	assert.Equal(t, client.ID, *got.ClientID)
	assert.Equal(t, clock.Now().Unix(), got.LastActive)
	assert.Equal(t, "aarch64", got.CPUArch)
	assert.Equal(t, "node-1", got.HostName)
	assert.Equal(t, "12", got.OSVersion)
	assert.True(t, clock.Now().Equal(got.CreatedAt))
}

func TestOpenSession_RequiresCPUArch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client, _, err := s.CreateClient(ctx, "c")
	require.NoError(t, err)

	for _, arch := range []string{"", "   "} {
		_, err = s.OpenSession(ctx, client.ID, models.HostInfo{HostName: "h", CPUArch: arch})
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Equal(t, int64(0), countRows(t, s, &models.Session{}))
}

func TestOpenSession_UnknownClient(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OpenSession(context.Background(), 99, models.HostInfo{CPUArch: "x86_64"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouch_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, sess := seedSession(t, s)

	t1 := time.Unix(sess.LastActive, 0).Add(time.Hour)
	t0 := t1.Add(-30 * time.Minute)

	require.NoError(t, s.Touch(ctx, sess.ID, t1))
	require.NoError(t, s.Touch(ctx, sess.ID, t0))
	require.NoError(t, s.Touch(ctx, sess.ID, t1))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, t1.Unix(), got.LastActive)
}

func TestTouch_MissingSession(t *testing.T) {
	s := newTestStore(t)
	err := s.Touch(context.Background(), 12345, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, sess := seedSession(t, s)
	_, other := seedSession(t, s)

	rx, tx := uint64(10), uint64(20)
	sample := models.Sample{
		SampleTime: 100,
		CPU:        []models.CPUReading{{Core: 0, Usage: 0.1}, {Core: 1, Usage: 0.2}},
		Memory:     &models.MemoryReading{Total: 1, Used: 1},
		Network:    []models.NetworkReading{{IfName: "eth0", RxBytes: &rx, TxBytes: &tx}},
	}
	for i := 0; i < 3; i++ {
		_, err := s.WriteSample(ctx, sess.ID, sample)
		require.NoError(t, err)
	}
	_, err := s.WriteSample(ctx, other.ID, sample)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Only the other session's sample survives.
	assert.Equal(t, int64(1), countRows(t, s, &models.SessionData{}))
	assert.Equal(t, int64(2), countRows(t, s, &models.SessionDataCPU{}))
	assert.Equal(t, int64(1), countRows(t, s, &models.SessionDataMemory{}))
	assert.Equal(t, int64(1), countRows(t, s, &models.SessionDataNetwork{}))

	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrNotFound)
}

func TestStaleSessions(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, old := seedSession(t, s)
	clock.Advance(time.Hour)
	_, fresh := seedSession(t, s)

	stale, err := s.StaleSessions(ctx, clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.NotEqual(t, fresh.ID, stale[0].ID)
}
