// Package store is the miniprobe persistence layer.
// It opens GORM over SQLite, migrates the client/session/sample schema and
// exposes the identity, session, sample and liveness operations on top of it.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/vesaa/miniprobe/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// nonExpiredView mirrors ListActiveSessions for external readers, on the
// database clock.
const nonExpiredView = `
CREATE VIEW IF NOT EXISTS non_expired_sessions AS
SELECT * FROM sessions
WHERE last_active >= CAST(strftime('%s', 'now') AS INTEGER) - 300`

// Store is safe for concurrent use.
type Store struct {
	db       *gorm.DB
	now      func() time.Time
	validate *validator.Validate
	hashCost int
	log      *zap.Logger
}

type Option func(*Store)

// WithClock replaces time.Now for watermarks and creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHashCost sets the bcrypt cost used for new client tokens.
func WithHashCost(cost int) Option {
	return func(s *Store) { s.hashCost = cost }
}

// Open opens the database and runs AutoMigrate.
func Open(driver, path string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(path))
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", driver)
	}

	s := &Store{
		now:      time.Now,
		validate: validator.New(),
		hashCost: bcrypt.DefaultCost,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger(s.log),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; SQLite serializes anyway and this keeps
	// transactions from failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	s.db = db

	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	s.log.Info("database opened", zap.String("driver", "sqlite"), zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&models.Client{},
		&models.Session{},
		&models.SessionData{},
		&models.SessionDataCPU{},
		&models.SessionDataMemory{},
		&models.SessionDataNetwork{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := s.db.Exec(nonExpiredView).Error; err != nil {
		return fmt.Errorf("creating non_expired_sessions view: %w", err)
	}
	return nil
}

// gormLogger sends GORM's slow-query and error lines through zap at Warn.
// Missing rows are ErrNotFound, not log noise.
func gormLogger(log *zap.Logger) logger.Interface {
	std, err := zap.NewStdLogAt(log.Named("gorm"), zapcore.WarnLevel)
	if err != nil {
		std = zap.NewStdLog(log.Named("gorm"))
	}
	return logger.New(std, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqliteDSN turns on foreign keys for every connection; cascades and SET NULL
// depend on it.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
