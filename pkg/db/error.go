package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
)

var (
	ErrLockTimeout = apperror.ConcurrencyTimeout("lock_timeout", "timed out waiting for a row lock")
	ErrDuplicate   = apperror.Conflict("duplicate", "record already exists")
	ErrNotFound    = apperror.NotFound("not_found", "record not found")
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}

	msg := err.Error()
	// postgres text form, mysql 1062, sqlite 2067
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsLockTimeoutErr reports lock waits that exceeded their budget, including
// serialization failures and deadlocks the database aborted.
func IsLockTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected, pgQueryCanceled:
			return true
		}
	}
	msg := err.Error()
	// mysql 1205 lock wait timeout, 1213 deadlock; sqlite busy
	return strings.Contains(msg, "Error 1205") ||
		strings.Contains(msg, "Error 1213") ||
		strings.Contains(msg, "database is locked")
}

// ClassifyError maps storage failures onto the application error taxonomy.
// Errors that already carry a kind pass through unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperror.Wrap(ErrNotFound, err)
	case IsLockTimeoutErr(err):
		return apperror.Wrap(ErrLockTimeout, err)
	case IsDuplicateKeyErr(err):
		return apperror.Wrap(ErrDuplicate, err)
	default:
		return err
	}
}
