package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vesaa/miniprobe/internal/models"
)

// LivenessWindow is how far back a watermark may lie for a session to count as active.
const LivenessWindow = 5 * time.Minute

// ListActiveSessions returns sessions whose watermark lies within
// LivenessWindow before now. Computed on every call, never cached.
func (s *Store) ListActiveSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("last_active >= ?", now.Add(-LivenessWindow).Unix()).
		Order("id").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", classify(err))
	}
	return sessions, nil
}
