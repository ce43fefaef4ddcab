package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound: the referenced row (or its parent) no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput: a required field is missing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized: a presented token matches no client.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConstraintViolation: malformed sample data rejected by the schema.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrStorageUnavailable: transient engine failure; callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var sentinels = []error{
	ErrNotFound, ErrConflict, ErrInvalidInput, ErrUnauthorized,
	ErrConstraintViolation, ErrStorageUnavailable,
}

// classify maps GORM and SQLite errors onto the store's sentinel errors while
// keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	msg := err.Error()
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "datatype mismatch"):
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sql: database is closed"),
		strings.Contains(msg, "disk I/O error"),
		strings.Contains(msg, "unable to open database"):
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}
