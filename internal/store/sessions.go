package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vesaa/miniprobe/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSession creates a session for clientID with the reported host metadata.
// cpu_arch is mandatory.
func (s *Store) OpenSession(ctx context.Context, clientID int64, host models.HostInfo) (*models.Session, error) {
	host.CPUArch = strings.TrimSpace(host.CPUArch)
	if err := s.validate.Struct(host); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now()
	sess := models.Session{
		ClientID:      &clientID,
		CreatedAt:     now.UTC(),
		LastActive:    now.Unix(),
		SystemName:    host.SystemName,
		KernelVersion: host.KernelVersion,
		OSVersion:     host.OSVersion,
		HostName:      host.HostName,
		CPUArch:       host.CPUArch,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Client{}).Where("id = ?", clientID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("client %d: %w", clientID, ErrNotFound)
		}
		return tx.Create(&sess).Error
	})
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", classify(err))
	}

	s.log.Debug("session opened", zap.Int64("session_id", sess.ID), zap.Int64("client_id", clientID))
	return &sess, nil
}

// Touch advances the session watermark to ts. The watermark never moves
// backwards, so late or duplicated samples cannot un-age a session.
func (s *Store) Touch(ctx context.Context, sessionID int64, ts time.Time) error {
	if err := touch(s.db.WithContext(ctx), sessionID, ts.Unix()); err != nil {
		return fmt.Errorf("touching session %d: %w", sessionID, err)
	}
	return nil
}

func touch(tx *gorm.DB, sessionID, ts int64) error {
	res := tx.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("last_active", gorm.Expr("MAX(last_active, ?)", ts))
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, id).Error; err != nil {
		return nil, fmt.Errorf("session %d: %w", id, classify(err))
	}
	return &sess, nil
}

// DeleteSession removes a session together with all of its samples.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&models.Session{}, id)
	if res.Error != nil {
		return fmt.Errorf("deleting session %d: %w", id, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	s.log.Debug("session deleted", zap.Int64("session_id", id))
	return nil
}

// StaleSessions lists sessions whose watermark is strictly before cutoff.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("last_active < ?", cutoff.Unix()).
		Order("id").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", classify(err))
	}
	return sessions, nil
}
