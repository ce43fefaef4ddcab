// Package reaper deletes sessions that have been silent for longer than the
// liveness window plus a grace period. Deleting a session cascades to all of
// its samples.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vesaa/miniprobe/internal/models"
	"github.com/vesaa/miniprobe/internal/store"
	"go.uber.org/zap"
)

// Store is the part of the session store the reaper needs.
type Store interface {
	StaleSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error)
	DeleteSession(ctx context.Context, id int64) error
}

type Reaper struct {
	store Store
	grace time.Duration
	now   func() time.Time
	log   *zap.Logger

	// OnDelete, if set, runs after each session is removed.
	OnDelete func(sessionID int64)

	mu   sync.Mutex
	cron *cron.Cron
}

func New(st Store, grace time.Duration, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{store: st, grace: grace, now: time.Now, log: log}
}

// Cutoff is the watermark below which a session is reaped.
func (r *Reaper) Cutoff() time.Time {
	return r.now().Add(-(store.LivenessWindow + r.grace))
}

// Sweep deletes every stale session and returns how many it removed.
// Sessions deleted concurrently by someone else are skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.Cutoff()
	stale, err := r.store.StaleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range stale {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		err := r.store.DeleteSession(ctx, sess.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return removed, fmt.Errorf("reaping session %d: %w", sess.ID, err)
		}
		removed++
		if r.OnDelete != nil {
			r.OnDelete(sess.ID)
		}
		r.log.Debug("session reaped",
			zap.Int64("session_id", sess.ID),
			zap.Time("last_active", sess.LastActiveTime()))
	}

	if removed > 0 {
		r.log.Info("reaper sweep", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Start schedules Sweep on a cron spec such as "@every 10m". An empty spec
// leaves the reaper disabled.
func (r *Reaper) Start(ctx context.Context, spec string) error {
	if spec == "" {
		r.log.Info("reaper disabled")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reaper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reaper sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reaper job: %w", err)
	}

	r.log.Info("reaper started", zap.String("schedule", spec), zap.Duration("grace", r.grace))
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.log.Info("reaper stopped")
}
