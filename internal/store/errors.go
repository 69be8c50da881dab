package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest marks a request the store refused before touching a
	// row: a missing required field or a constraint violation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound means the mutation or lookup target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the persistence layer itself failed: a timeout,
	// a closed database, an I/O error. Distinct from ErrNotFound so callers
	// never mistake an unreachable store for an absent document.
	ErrUnavailable = errors.New("store unavailable")
)

// classify maps driver and context errors onto the store error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return err
	case isConstraintError(err):
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}
