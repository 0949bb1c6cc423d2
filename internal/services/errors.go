package services

import (
	"fmt"
	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("requirement not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("claim conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

const conflictReason = "You're already working on another requisition. Please mark it free and try again."

// ConflictError rejects a claim that would give a recruiter a second active requisition.
type ConflictError struct {
	Recruiter string
	HeldID    int
}

func (e *ConflictError) Error() string {
	return conflictReason
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
