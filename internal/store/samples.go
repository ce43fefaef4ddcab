package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vesaa/miniprobe/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WriteSample stores one tick for sessionID and advances the session
// watermark, all in one transaction: either the parent row, every child row
// and the watermark update commit together, or nothing does.
func (s *Store) WriteSample(ctx context.Context, sessionID int64, sample models.Sample) (int64, error) {
	var dataID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Checked up front so a session reaped mid-flight yields ErrNotFound
		// rather than a foreign key failure.
		var n int64
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		data := models.SessionData{SessionID: sessionID, SampleTime: sample.SampleTime}
		if err := tx.Create(&data).Error; err != nil {
			return err
		}

		if len(sample.CPU) > 0 {
			rows := make([]models.SessionDataCPU, 0, len(sample.CPU))
			for _, c := range sample.CPU {
				rows = append(rows, models.SessionDataCPU{
					SessionDataID: data.ID,
					CPUID:         c.Core,
					CPUUsage:      c.Usage,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		if m := sample.Memory; m != nil {
			row := models.SessionDataMemory{
				SessionDataID: data.ID,
				Total:         int64(m.Total),
				Used:          int64(m.Used),
				SwapTotal:     int64(m.SwapTotal),
				SwapUsed:      int64(m.SwapUsed),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if len(sample.Network) > 0 {
			rows := make([]models.SessionDataNetwork, 0, len(sample.Network))
			for _, nr := range sample.Network {
				rows = append(rows, models.SessionDataNetwork{
					SessionDataID: data.ID,
					IfName:        nr.IfName,
					RxBytes:       counter(nr.RxBytes),
					TxBytes:       counter(nr.TxBytes),
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		if err := touch(tx, sessionID, s.now().Unix()); err != nil {
			return err
		}
		dataID = data.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("writing sample for session %d: %w", sessionID, writeErr(err))
	}

	s.log.Debug("sample stored",
		zap.Int64("session_id", sessionID),
		zap.Int64("sample_id", dataID),
		zap.Int("cpus", len(sample.CPU)),
		zap.Int("interfaces", len(sample.Network)))
	return dataID, nil
}

// GetSample loads a stored tick with all of its children.
func (s *Store) GetSample(ctx context.Context, id int64) (*models.SessionData, error) {
	var data models.SessionData
	err := s.db.WithContext(ctx).
		Preload("CPU", func(db *gorm.DB) *gorm.DB { return db.Order("cpu_id") }).
		Preload("Memory").
		Preload("Network", func(db *gorm.DB) *gorm.DB { return db.Order("ifname") }).
		First(&data, id).Error
	if err != nil {
		return nil, fmt.Errorf("sample %d: %w", id, classify(err))
	}
	return &data, nil
}

// ListSamples returns the most recent samples of a session, newest first,
// without their children.
func (s *Store) ListSamples(ctx context.Context, sessionID int64, limit int) ([]models.SessionData, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.SessionData
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sample_time DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing samples for session %d: %w", sessionID, classify(err))
	}
	return rows, nil
}

// writeErr reports uniqueness failures inside a sample as malformed input.
func writeErr(err error) error {
	err = classify(err)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}

func counter(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
