package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is a generic sentinel for uniqueness/concurrency conflicts.
	ErrConflict = errors.New("conflict")
	// ErrRetryable is a generic sentinel for transient storage failures.
	ErrRetryable = errors.New("retryable")
)

func Is(err, target error) bool  { return errors.Is(err, target) }
func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }

// MapStorage classifies storage-layer failures into the sentinels above,
// keeping the original error in the chain. Postgres error codes take
// precedence over message sniffing.
func MapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrRetryable),
		errors.Is(err, ErrInvalidArgument):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return wrap(ErrNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrap(ErrRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return wrap(ErrConflict, op, err) // unique_violation
		case "40001", "40P01", "55P03":
			return wrap(ErrRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "already exists"):
		return wrap(ErrConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "temporar"):
		return wrap(ErrRetryable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func wrap(sentinel error, op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}
